package rag

import (
	"go.uber.org/zap"
)

// FallbackThreshold 分类置信度低于该值时忽略分类器的推荐类别
const FallbackThreshold = 0.7

// fallbackPrefix 回退路径产生的策略名前缀
const fallbackPrefix = "fallback::"

// ChunkRouterConfig 分块路由配置
type ChunkRouterConfig struct {
	// 置信度低于该值走回退策略
	FallbackThreshold float64 `json:"fallback_threshold"`

	// 各策略参数
	Recursive RecursiveConfig `json:"recursive"`
	Tabular   TabularConfig   `json:"tabular"`
}

// DefaultChunkRouterConfig 默认分块路由配置
func DefaultChunkRouterConfig() ChunkRouterConfig {
	return ChunkRouterConfig{
		FallbackThreshold: FallbackThreshold,
		Recursive:         DefaultRecursiveConfig(),
		Tabular:           DefaultTabularConfig(),
	}
}

// ChunkRouter 分块路由器
// 按分类决策的类别/置信度在封闭策略集合中分派。决策缺失、置信度不足
// 或类别未映射时走回退策略（标准参数的递归分块），并给策略名加
// "fallback::" 前缀。对注入的策略而言是纯函数：相同输入产生相同结果，
// 永远不会失败。
type ChunkRouter struct {
	config    ChunkRouterConfig
	recursive *RecursiveChunker
	tabular   *TabularChunker
	fallback  Chunker
	logger    *zap.Logger
}

// NewChunkRouter 创建分块路由器
func NewChunkRouter(config ChunkRouterConfig, logger *zap.Logger) *ChunkRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FallbackThreshold <= 0 || config.FallbackThreshold > 1 {
		config.FallbackThreshold = FallbackThreshold
	}

	recursive := NewRecursiveChunker(config.Recursive)
	return &ChunkRouter{
		config:    config,
		recursive: recursive,
		tabular:   NewTabularChunker(config.Tabular),
		fallback:  recursive,
		logger:    logger.With(zap.String("component", "chunk_router")),
	}
}

// Route 按分类决策选择分块策略并执行
// decision 为 nil 或置信度低于阈值时走回退路径。空内容产生空块序列。
func (r *ChunkRouter) Route(content string, decision *ClassificationDecision) ChunkingResult {
	if decision == nil {
		return r.routeFallback(content, "no classification")
	}
	if decision.Confidence < r.config.FallbackThreshold {
		r.logger.Debug("classification confidence below threshold",
			zap.String("category", string(decision.Category)),
			zap.Float64("confidence", decision.Confidence),
			zap.Float64("threshold", r.config.FallbackThreshold))
		return r.routeFallback(content, "low confidence")
	}

	var strategy Chunker
	switch decision.Category {
	case CategoryDenseAcademic:
		strategy = r.recursive
	case CategoryTabularData, CategoryMixedScientific:
		strategy = r.tabular
	default:
		// 未映射的类别同样走回退
		return r.routeFallback(content, "unmapped category")
	}

	r.logger.Debug("chunk strategy selected",
		zap.String("category", string(decision.Category)),
		zap.String("strategy", strategy.Name()))

	return ChunkingResult{
		Chunks:       strategy.Split(content),
		StrategyName: strategy.Name(),
		Params:       strategy.Params(),
	}
}

// routeFallback 使用回退策略分块并加前缀标记
func (r *ChunkRouter) routeFallback(content, reason string) ChunkingResult {
	r.logger.Debug("using fallback chunk strategy", zap.String("reason", reason))

	return ChunkingResult{
		Chunks:       r.fallback.Split(content),
		StrategyName: fallbackPrefix + r.fallback.Name(),
		Params:       r.fallback.Params(),
	}
}
