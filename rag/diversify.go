package rag

import (
	"go.uber.org/zap"
)

// DiversificationPolicy 反冗余策略配置（运行时不修改）
type DiversificationPolicy struct {
	// 单文档最多保留的块数（≥1；≤0 时多样化退化为恒等）
	MaxPerDocument int `json:"max_per_document"`

	// 无条件保留的头部块数（精度保证，≥0）
	PreserveTopN int `json:"preserve_top_n"`
}

// DefaultDiversificationPolicy 默认反冗余策略
func DefaultDiversificationPolicy() DiversificationPolicy {
	return DiversificationPolicy{
		MaxPerDocument: 2,
		PreserveTopN:   3,
	}
}

// Diversifier 反冗余过滤器
// 在按相关性排好序的块序列上施加单文档配额。头部 preserve_top_n 块
// 无条件保留（并计入其文档配额）；之后的块只在其文档配额未满时保留。
// 只删除，不重排，不新增：输出严格保持输入中被保留块的相对顺序。
type Diversifier struct {
	policy DiversificationPolicy
	logger *zap.Logger
}

// NewDiversifier 创建反冗余过滤器
func NewDiversifier(policy DiversificationPolicy, logger *zap.Logger) *Diversifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diversifier{
		policy: policy,
		logger: logger.With(zap.String("component", "diversifier")),
	}
}

// Diversify 应用单文档配额
// MaxPerDocument ≤ 0 时原样返回输入。没有文档 ID 的块不受配额约束。
func (d *Diversifier) Diversify(chunks []RetrievedChunk) []RetrievedChunk {
	if d.policy.MaxPerDocument <= 0 {
		return chunks
	}

	perDoc := make(map[string]int)
	kept := make([]RetrievedChunk, 0, len(chunks))

	for i, chunk := range chunks {
		// 头部块无条件保留，但仍计入文档配额
		if i < d.policy.PreserveTopN {
			kept = append(kept, chunk)
			if chunk.DocumentID != "" {
				perDoc[chunk.DocumentID]++
			}
			continue
		}

		if chunk.DocumentID == "" {
			kept = append(kept, chunk)
			continue
		}

		if perDoc[chunk.DocumentID] < d.policy.MaxPerDocument {
			perDoc[chunk.DocumentID]++
			kept = append(kept, chunk)
		}
	}

	if len(kept) < len(chunks) {
		d.logger.Debug("chunks removed for diversity",
			zap.Int("before", len(chunks)),
			zap.Int("after", len(kept)),
			zap.Int("max_per_document", d.policy.MaxPerDocument))
	}

	return kept
}

// DiversityScore 计算多样性分数：不同（非空）文档 ID 数 / 块数。
// 空序列得 0.0；所有块都没有文档 ID 时得 1.0（无法评估时不惩罚）。
func DiversityScore(chunks []RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0.0
	}

	unique := make(map[string]struct{})
	for _, chunk := range chunks {
		if chunk.DocumentID != "" {
			unique[chunk.DocumentID] = struct{}{}
		}
	}

	if len(unique) == 0 {
		return 1.0
	}
	return float64(len(unique)) / float64(len(chunks))
}
