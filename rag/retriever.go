package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retrievalflow/retrievalflow/internal/metrics"
)

// RetrievedChunk 检索到的块
// 由基线检索器创建，在管线各阶段就地补充字段，调用返回后即丢弃。
// SimilarityScore 是双编码器分数；RerankScore 只在阶段 2 成功后填充。
type RetrievedChunk struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id,omitempty"` // 空串表示无来源文档
	Content         string         `json:"content"`
	SimilarityScore float64        `json:"similarity_score"`
	RerankScore     *float64       `json:"rerank_score,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// BaselineRetriever 基线向量检索接口（外部协作者）
// 约定：无匹配时返回空列表而不是错误。严格阈值下零命中时是否在
// 阈值 0.0 重试由实现方决定。
type BaselineRetriever interface {
	Search(ctx context.Context, query string, matchCount int, matchThreshold float64) ([]RetrievedChunk, error)
}

// EnhancedRetrieverConfig 增强检索管线配置
type EnhancedRetrieverConfig struct {
	// 过量检索倍数（2-5）
	OverRetrieveFactor int `json:"over_retrieve_factor"`

	// 阶段 1 的低阈值，换召回率
	OverRetrieveThreshold float64 `json:"over_retrieve_threshold"`

	// 阶段 4 的默认 rerank 分数阈值（调用未指定时生效）
	RerankThreshold float64 `json:"rerank_threshold"`

	// 阶段 1 延迟超过该值时跳过重排（熔断器）
	CircuitBreakerLatency time.Duration `json:"circuit_breaker_latency"`

	// 多样化开关与策略
	EnableDiversification bool                  `json:"enable_diversification"`
	Diversification       DiversificationPolicy `json:"diversification"`
}

// DefaultEnhancedRetrieverConfig 默认管线配置
func DefaultEnhancedRetrieverConfig() EnhancedRetrieverConfig {
	return EnhancedRetrieverConfig{
		OverRetrieveFactor:    3,
		OverRetrieveThreshold: 0.4,
		RerankThreshold:       0.2,
		CircuitBreakerLatency: time.Second,
		EnableDiversification: true,
		Diversification:       DefaultDiversificationPolicy(),
	}
}

// EnhancedChunkRetriever 四阶段检索管线编排器
//
//	阶段 1  过量检索：matchCount × factor，低阈值
//	阶段 2  交叉编码重排序（延迟加载的进程级模型句柄）
//	阶段 3  反冗余多样化（按调用方请求）
//	阶段 4  阈值过滤与截断
//
// 除模型句柄外无内部状态，单次调用同步执行，可被多个 goroutine 并发调用。
// 回退策略集中在这里：重排失败回退基线排序，熔断器跳过重排；
// 唯一传播给调用方的失败是阶段 1 的检索失败。
type EnhancedChunkRetriever struct {
	baseline    BaselineRetriever
	reranker    *CrossEncoderReranker
	diversifier *Diversifier
	config      EnhancedRetrieverConfig
	collector   *metrics.Collector // 可选
	logger      *zap.Logger
}

// NewEnhancedChunkRetriever 创建增强检索管线
// collector 可为 nil（不记录指标）。
func NewEnhancedChunkRetriever(
	baseline BaselineRetriever,
	reranker *CrossEncoderReranker,
	config EnhancedRetrieverConfig,
	collector *metrics.Collector,
	logger *zap.Logger,
) *EnhancedChunkRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.OverRetrieveFactor <= 0 {
		config.OverRetrieveFactor = DefaultEnhancedRetrieverConfig().OverRetrieveFactor
	}
	if config.CircuitBreakerLatency <= 0 {
		config.CircuitBreakerLatency = DefaultEnhancedRetrieverConfig().CircuitBreakerLatency
	}

	return &EnhancedChunkRetriever{
		baseline:    baseline,
		reranker:    reranker,
		diversifier: NewDiversifier(config.Diversification, logger),
		config:      config,
		collector:   collector,
		logger:      logger.With(zap.String("component", "enhanced_retriever")),
	}
}

// RetrieveAndRerank 执行检索管线
// matchThreshold < 0 时使用配置的默认 rerank 阈值。diversify 控制阶段 3
// 是否执行（还需配置开关打开）。阶段 2 之后的失败都不会传播：调用方
// 总能拿到尽力而为的结果列表。
func (r *EnhancedChunkRetriever) RetrieveAndRerank(
	ctx context.Context,
	query string,
	matchCount int,
	matchThreshold float64,
	diversify bool,
) ([]RetrievedChunk, error) {
	start := time.Now()
	if matchCount <= 0 {
		matchCount = 1
	}
	if r.collector != nil {
		r.collector.IncRetrieval()
	}

	// ====== 阶段 1：过量检索 ======
	target := matchCount * r.config.OverRetrieveFactor

	stage1Start := time.Now()
	baseline, err := r.baseline.Search(ctx, query, target, r.config.OverRetrieveThreshold)
	stage1 := time.Since(stage1Start)
	r.observeStage("over_retrieve", stage1)

	if err != nil {
		// 唯一向上传播的失败：没有基线结果就没有任何结果
		return nil, fmt.Errorf("baseline retrieval: %w", err)
	}
	if len(baseline) == 0 {
		r.logger.Debug("baseline retrieval returned no results",
			zap.Int("target", target))
		return []RetrievedChunk{}, nil
	}

	// 熔断器：基线检索过慢时跳过重排，直接返回截断的基线结果
	if stage1 > r.config.CircuitBreakerLatency {
		r.logger.Warn("baseline retrieval latency exceeded circuit breaker, skipping rerank",
			zap.Duration("latency", stage1),
			zap.Duration("limit", r.config.CircuitBreakerLatency))
		if r.collector != nil {
			r.collector.IncCircuitBreakerTrip()
		}
		return truncateChunks(baseline, matchCount), nil
	}

	// ====== 阶段 2：重排序 ======
	stage2Start := time.Now()
	reranked, rerankErr := r.reranker.Rerank(ctx, query, baseline)
	stage2 := time.Since(stage2Start)
	r.observeStage("rerank", stage2)

	if rerankErr != nil {
		// 重排失败不传播：回退基线排序
		r.logger.Warn("rerank failed, falling back to baseline ranking",
			zap.Error(rerankErr),
			zap.Int("candidates", len(baseline)))
		if r.collector != nil {
			r.collector.IncRerankFallback()
		}
		return truncateChunks(baseline, matchCount), nil
	}

	results := reranked

	// ====== 阶段 3：多样化 ======
	var stage3 time.Duration
	if diversify && r.config.EnableDiversification {
		stage3Start := time.Now()
		before := DiversityScore(results)
		results = r.diversifier.Diversify(results)
		after := DiversityScore(results)
		stage3 = time.Since(stage3Start)
		r.observeStage("diversify", stage3)

		r.logger.Debug("diversification applied",
			zap.Float64("diversity_before", before),
			zap.Float64("diversity_after", after))
		if r.collector != nil {
			r.collector.ObserveDiversityScore(after)
		}
	}

	// ====== 阶段 4：阈值过滤与截断 ======
	stage4Start := time.Now()
	threshold := matchThreshold
	if threshold < 0 {
		threshold = r.config.RerankThreshold
	}

	filtered := make([]RetrievedChunk, 0, len(results))
	for _, chunk := range results {
		if chunk.RerankScore == nil || *chunk.RerankScore < threshold {
			continue
		}
		filtered = append(filtered, chunk)
	}
	filtered = truncateChunks(filtered, matchCount)
	stage4 := time.Since(stage4Start)
	r.observeStage("filter", stage4)

	r.logger.Info("retrieval pipeline completed",
		zap.Int("baseline", len(baseline)),
		zap.Int("returned", len(filtered)),
		zap.Duration("stage_over_retrieve", stage1),
		zap.Duration("stage_rerank", stage2),
		zap.Duration("stage_diversify", stage3),
		zap.Duration("stage_filter", stage4),
		zap.Duration("total", time.Since(start)))

	return filtered, nil
}

// observeStage 记录阶段延迟
func (r *EnhancedChunkRetriever) observeStage(stage string, d time.Duration) {
	if r.collector != nil {
		r.collector.ObserveStageDuration(stage, d)
	}
}

// truncateChunks 截断到 n 个
func truncateChunks(chunks []RetrievedChunk, n int) []RetrievedChunk {
	if len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}
