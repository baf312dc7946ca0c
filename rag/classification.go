package rag

// DocumentCategory 文档类别（封闭集合）
type DocumentCategory string

const (
	CategoryDenseAcademic   DocumentCategory = "dense_academic"   // 密集学术文本
	CategoryTabularData     DocumentCategory = "tabular_data"     // 表格为主
	CategoryMixedScientific DocumentCategory = "mixed_scientific" // 文本 + 表格混合科学文档
	CategoryNarrative       DocumentCategory = "narrative"        // 叙述性文本
	CategoryUnknown         DocumentCategory = "unknown"          // 分类器无法判断
)

// ClassificationDecision 文档分类决策
// 由外部 LLM 分类器产生，创建后不再修改。本包只消费该决策：
// ChunkRouter 按类别/置信度路由分块策略，internal/cache 按内容寻址缓存它。
type ClassificationDecision struct {
	Category   DocumentCategory `json:"category"`
	Confidence float64          `json:"confidence"` // [0, 1]
	Reasoning  string           `json:"reasoning,omitempty"`
}
