package rag

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InMemoryBaselineRetriever 内存基线检索器
// BaselineRetriever 契约的参考实现，用词重叠相似度近似双编码器分数，
// 用于测试和示例程序。严格阈值下零命中时在阈值 0.0 重试一次
// （协作者侧行为）。并发安全。
type InMemoryBaselineRetriever struct {
	mu     sync.RWMutex
	chunks []RetrievedChunk
	logger *zap.Logger
}

// NewInMemoryBaselineRetriever 创建内存基线检索器
func NewInMemoryBaselineRetriever(logger *zap.Logger) *InMemoryBaselineRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryBaselineRetriever{
		logger: logger.With(zap.String("component", "memory_retriever")),
	}
}

// IndexChunks 索引一个文档的块序列，自动分配块 ID
func (s *InMemoryBaselineRetriever) IndexChunks(documentID string, chunks []string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, content := range chunks {
		s.chunks = append(s.chunks, RetrievedChunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Content:    content,
			Metadata:   metadata,
		})
	}

	s.logger.Debug("chunks indexed",
		zap.String("document_id", documentID),
		zap.Int("count", len(chunks)),
		zap.Int("total", len(s.chunks)))
}

// Count 返回已索引的块数
func (s *InMemoryBaselineRetriever) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Search 按词重叠相似度检索
// 无匹配时返回空列表而不是错误。
func (s *InMemoryBaselineRetriever) Search(ctx context.Context, query string, matchCount int, matchThreshold float64) ([]RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 || matchCount <= 0 {
		return []RetrievedChunk{}, nil
	}

	scored := s.scoreAll(query)

	results := filterByThreshold(scored, matchThreshold)
	if len(results) == 0 && matchThreshold > 0 {
		// 严格阈值零命中：在阈值 0.0 重试
		results = filterByThreshold(scored, 0.0)
	}

	if len(results) > matchCount {
		results = results[:matchCount]
	}

	out := make([]RetrievedChunk, len(results))
	copy(out, results)
	return out, nil
}

// scoreAll 为所有块打分并降序排序（同分保持索引顺序）
func (s *InMemoryBaselineRetriever) scoreAll(query string) []RetrievedChunk {
	scored := make([]RetrievedChunk, len(s.chunks))
	copy(scored, s.chunks)

	for i := range scored {
		scored[i].SimilarityScore = WordOverlapScore(query, scored[i].Content)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimilarityScore > scored[j].SimilarityScore
	})
	return scored
}

func filterByThreshold(chunks []RetrievedChunk, threshold float64) []RetrievedChunk {
	kept := make([]RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.SimilarityScore >= threshold && chunk.SimilarityScore > 0 {
			kept = append(kept, chunk)
		}
	}
	return kept
}

// WordOverlapScore Jaccard 词重叠相似度，范围 [0,1]
// 内存检索器和不依赖模型服务的打分器共用。
func WordOverlapScore(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	wordsB := strings.Fields(strings.ToLower(b))

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}

	overlap := 0
	seen := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		if setA[w] && !seen[w] {
			overlap++
			seen[w] = true
		}
	}

	union := len(setA) + len(uniqueWords(wordsB)) - overlap
	if union == 0 {
		return 0.0
	}
	return float64(overlap) / float64(union)
}

func uniqueWords(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
