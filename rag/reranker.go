package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// QueryDocPair 查询-文档对
type QueryDocPair struct {
	Query    string
	Document string
}

// CrossEncoderScorer 交叉编码模型接口（外部模型）
type CrossEncoderScorer interface {
	// Predict 批量计算查询-文档对的相关性分数，返回与输入同序的分数数组
	Predict(ctx context.Context, pairs []QueryDocPair) ([]float64, error)
}

// ScorerLoader 延迟构建交叉编码模型句柄
// 模型加载昂贵，进程内只执行一次；并发调用由 reranker 内部合并。
type ScorerLoader func() (CrossEncoderScorer, error)

// CrossEncoderConfig 交叉编码重排配置
type CrossEncoderConfig struct {
	ModelName string `json:"model_name"` // 模型名称
	BatchSize int    `json:"batch_size"` // 批处理大小
	MaxLength int    `json:"max_length"` // 最大输入长度（tokens）
}

// DefaultCrossEncoderConfig 默认交叉编码配置
func DefaultCrossEncoderConfig() CrossEncoderConfig {
	return CrossEncoderConfig{
		ModelName: "cross-encoder/ms-marco-MiniLM-L-6-v2",
		BatchSize: 32,
		MaxLength: 512,
	}
}

// CrossEncoderReranker 交叉编码重排序器
// 模型句柄进程级共享、延迟初始化且只初始化一次（singleflight 合并并发
// 加载）。Rerank 只返回错误，不做回退——失败语义由管线编排器决定。
type CrossEncoderReranker struct {
	config CrossEncoderConfig
	loader ScorerLoader
	logger *zap.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	scorer CrossEncoderScorer
}

// NewCrossEncoderReranker 创建交叉编码重排序器（延迟加载模型）
func NewCrossEncoderReranker(config CrossEncoderConfig, loader ScorerLoader, logger *zap.Logger) *CrossEncoderReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultCrossEncoderConfig().BatchSize
	}
	if config.MaxLength <= 0 {
		config.MaxLength = DefaultCrossEncoderConfig().MaxLength
	}

	return &CrossEncoderReranker{
		config: config,
		loader: loader,
		logger: logger.With(zap.String("component", "reranker")),
	}
}

// NewCrossEncoderRerankerWithScorer 用已就绪的模型句柄创建重排序器
func NewCrossEncoderRerankerWithScorer(config CrossEncoderConfig, scorer CrossEncoderScorer, logger *zap.Logger) *CrossEncoderReranker {
	r := NewCrossEncoderReranker(config, nil, logger)
	r.scorer = scorer
	return r
}

// getScorer 获取模型句柄，第一次调用时加载
func (r *CrossEncoderReranker) getScorer() (CrossEncoderScorer, error) {
	r.mu.RLock()
	scorer := r.scorer
	r.mu.RUnlock()
	if scorer != nil {
		return scorer, nil
	}

	if r.loader == nil {
		return nil, fmt.Errorf("no cross-encoder scorer configured")
	}

	// 并发的首次加载合并为一次
	v, err, _ := r.group.Do("load", func() (any, error) {
		r.mu.RLock()
		loaded := r.scorer
		r.mu.RUnlock()
		if loaded != nil {
			return loaded, nil
		}

		r.logger.Info("loading cross-encoder model",
			zap.String("model", r.config.ModelName))

		s, err := r.loader()
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.scorer = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(CrossEncoderScorer), nil
}

// Rerank 为候选块计算 rerank 分数并按分数稳定降序排序
// 双编码器的 similarity_score 原样保留；rerank_score 单独写入。
// 空内容的块不参与打分，排序时视为最低分。分数相同的块保持原有相对顺序。
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, chunks []RetrievedChunk) ([]RetrievedChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	scorer, err := r.getScorer()
	if err != nil {
		return nil, fmt.Errorf("load cross-encoder model: %w", err)
	}

	// 只为非空内容构建 (query, content) 对
	pairs := make([]QueryDocPair, 0, len(chunks))
	indexes := make([]int, 0, len(chunks))
	maxChars := r.config.MaxLength * 4 // ~4 chars per token

	for i, chunk := range chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			continue
		}
		content := chunk.Content
		if len(content) > maxChars {
			content = content[:maxChars]
		}
		pairs = append(pairs, QueryDocPair{Query: query, Document: content})
		indexes = append(indexes, i)
	}

	if len(pairs) == 0 {
		return chunks, nil
	}

	scores, err := r.batchScore(ctx, scorer, pairs)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder scoring: %w", err)
	}
	if len(scores) != len(pairs) {
		return nil, fmt.Errorf("scorer returned %d scores for %d pairs", len(scores), len(pairs))
	}

	out := make([]RetrievedChunk, len(chunks))
	copy(out, chunks)
	for k, i := range indexes {
		score := scores[k]
		out[i].RerankScore = &score
	}

	sort.SliceStable(out, func(i, j int) bool {
		return rerankScoreOrNegInf(out[i]) > rerankScoreOrNegInf(out[j])
	})

	return out, nil
}

// batchScore 分批调用模型
func (r *CrossEncoderReranker) batchScore(ctx context.Context, scorer CrossEncoderScorer, pairs []QueryDocPair) ([]float64, error) {
	scores := make([]float64, 0, len(pairs))

	for i := 0; i < len(pairs); i += r.config.BatchSize {
		end := i + r.config.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}

		batchScores, err := scorer.Predict(ctx, pairs[i:end])
		if err != nil {
			return nil, err
		}
		scores = append(scores, batchScores...)
	}

	return scores, nil
}

// rerankScoreOrNegInf 排序键：未打分的块排到最后
func rerankScoreOrNegInf(chunk RetrievedChunk) float64 {
	if chunk.RerankScore == nil {
		return math.Inf(-1)
	}
	return *chunk.RerankScore
}
