package rag

import (
	"fmt"
	"strings"
)

// Chunker 分块策略接口
// 变体集合是封闭的：Recursive 和 Tabular。策略是纯函数，
// 相同输入永远产生相同输出。
type Chunker interface {
	// Name 返回策略名（含参数，如 recursive_character_800_160）
	Name() string

	// Params 返回策略参数表
	Params() map[string]any

	// Split 将文本切分为有序块序列；空输入返回空序列
	Split(text string) []string
}

// ChunkingResult 一次分块调用的结果
// 不可变值：每次 Route/Split 调用创建，创建后不再修改。
type ChunkingResult struct {
	Chunks       []string       `json:"chunks"`
	StrategyName string         `json:"strategy_name"`
	Params       map[string]any `json:"params,omitempty"`
}

// ====== 递归分块策略 ======

// RecursiveConfig 递归分块配置（字符数）
type RecursiveConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// DefaultRecursiveConfig 默认递归分块配置
func DefaultRecursiveConfig() RecursiveConfig {
	return RecursiveConfig{
		ChunkSize:    800,
		ChunkOverlap: 160, // 20% overlap
	}
}

// RecursiveChunker 递归字符分块器
// 按分隔符层级（段落 > 行 > 句子 > 空格）在目标块大小附近寻找切分点，
// 完整覆盖输入，块之间带重叠。每块长度不超过 chunk_size，
// 相邻块的重叠不超过 chunk_overlap。
type RecursiveChunker struct {
	config RecursiveConfig
}

// NewRecursiveChunker 创建递归分块器
func NewRecursiveChunker(config RecursiveConfig) *RecursiveChunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultRecursiveConfig().ChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	return &RecursiveChunker{config: config}
}

// Name 返回策略名
func (c *RecursiveChunker) Name() string {
	return fmt.Sprintf("recursive_character_%d_%d", c.config.ChunkSize, c.config.ChunkOverlap)
}

// Params 返回策略参数表
func (c *RecursiveChunker) Params() map[string]any {
	return map[string]any{
		"chunk_size":    c.config.ChunkSize,
		"chunk_overlap": c.config.ChunkOverlap,
	}
}

// Split 递归分块
func (c *RecursiveChunker) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	size := c.config.ChunkSize
	overlap := c.config.ChunkOverlap

	if len(runes) <= size {
		return []string{text}
	}

	chunks := []string{}
	start := 0

	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		// 在窗口后半部分寻找最优分隔符边界
		cut := findSplitBoundary(runes, start, end)
		chunks = append(chunks, string(runes[start:cut]))

		// 下一块从重叠处开始；保证前进，避免死循环
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// findSplitBoundary 从 end 向前回溯寻找切分点（只在窗口后半部分查找）。
// 优先级：段落（空行）> 行 > 句子结束符 > 空格。找不到则硬切在 end。
// 返回的下标是切分点（不含），边界字符归属左块。
func findSplitBoundary(runes []rune, start, end int) int {
	half := start + (end-start)/2

	// 段落边界：连续两个换行
	for i := end - 1; i > half; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// 行边界
	for i := end - 1; i > half; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}

	// 句子边界
	for i := end - 1; i > half; i-- {
		switch runes[i] {
		case '.', '!', '?', '。', '！', '？':
			return i + 1
		}
	}

	// 空格
	for i := end - 1; i > half; i-- {
		if runes[i] == ' ' || runes[i] == '\t' {
			return i + 1
		}
	}

	return end
}

// ====== 表格分块策略 ======

// TabularConfig 表格分块配置
type TabularConfig struct {
	// 段落缓冲达到该字符数后作为一个块输出
	MinSectionLen int `json:"min_section_len"`
}

// DefaultTabularConfig 默认表格分块配置
func DefaultTabularConfig() TabularConfig {
	return TabularConfig{
		MinSectionLen: 400,
	}
}

// TabularChunker 表格感知分块器
// 按空行分隔的段落贪心累积：缓冲达到 min_section_len 后输出为一个块，
// 剩余缓冲作为最后一块输出。只产生 0/1 个块时退化为按非空行切分。
// 非空输入内容永远不会被丢弃。
type TabularChunker struct {
	config TabularConfig
}

// NewTabularChunker 创建表格分块器
func NewTabularChunker(config TabularConfig) *TabularChunker {
	if config.MinSectionLen <= 0 {
		config.MinSectionLen = DefaultTabularConfig().MinSectionLen
	}
	return &TabularChunker{config: config}
}

// Name 返回策略名
func (c *TabularChunker) Name() string {
	return fmt.Sprintf("tabular_section_%d", c.config.MinSectionLen)
}

// Params 返回策略参数表
func (c *TabularChunker) Params() map[string]any {
	return map[string]any{
		"min_section_len": c.config.MinSectionLen,
	}
}

// Split 表格分块
func (c *TabularChunker) Split(text string) []string {
	if text == "" {
		return nil
	}

	paragraphs := splitParagraphs(text)

	chunks := []string{}
	buf := ""
	for _, para := range paragraphs {
		if buf != "" {
			buf += "\n\n"
		}
		buf += para
		if len(buf) >= c.config.MinSectionLen {
			chunks = append(chunks, buf)
			buf = ""
		}
	}
	if buf != "" {
		chunks = append(chunks, buf)
	}

	// 段落累积失败（整个输入只有一段）时退化为逐行切分
	if len(chunks) <= 1 {
		lines := nonBlankLines(text)
		if len(lines) > 1 {
			return lines
		}
	}

	return chunks
}

// splitParagraphs 按空行切分段落，丢弃纯空白段
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(normalized, "\n\n")

	paragraphs := []string{}
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// nonBlankLines 返回所有非空行
func nonBlankLines(text string) []string {
	lines := []string{}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
