package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 覆盖分类缓存和检索管线两个子系统。所有方法并发安全
// （Prometheus 客户端自身保证）。
type Collector struct {
	// 分类缓存指标
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheErrors prometheus.Counter

	// 检索管线指标
	retrievalsTotal     prometheus.Counter
	stageDuration       *prometheus.HistogramVec
	rerankFallbacks     prometheus.Counter
	circuitBreakerTrips prometheus.Counter
	diversityScore      prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 为 nil 时注册到默认 registry；测试传入独立 registry 避免重复注册。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 缓存指标
	c.cacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_cache_hits_total",
		Help:      "Total number of classification cache hits",
	})
	c.cacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_cache_misses_total",
		Help:      "Total number of classification cache misses",
	})
	c.cacheErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_cache_errors_total",
		Help:      "Total number of classification cache store errors",
	})

	// 管线指标
	c.retrievalsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_pipeline_calls_total",
		Help:      "Total number of retrieval pipeline invocations",
	})
	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Retrieval pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	c.rerankFallbacks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rerank_fallbacks_total",
		Help:      "Total number of rerank failures that fell back to baseline ranking",
	})
	c.circuitBreakerTrips = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_circuit_breaker_trips_total",
		Help:      "Total number of circuit breaker trips skipping the rerank stage",
	})
	c.diversityScore = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_diversity_score",
		Help:      "Diversity score of retrieval results after diversification",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// IncCacheHit 记录缓存命中
func (c *Collector) IncCacheHit() { c.cacheHits.Inc() }

// IncCacheMiss 记录缓存未命中
func (c *Collector) IncCacheMiss() { c.cacheMisses.Inc() }

// IncCacheError 记录缓存存储错误
func (c *Collector) IncCacheError() { c.cacheErrors.Inc() }

// IncRetrieval 记录一次管线调用
func (c *Collector) IncRetrieval() { c.retrievalsTotal.Inc() }

// ObserveStageDuration 记录管线阶段延迟
func (c *Collector) ObserveStageDuration(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncRerankFallback 记录一次重排回退
func (c *Collector) IncRerankFallback() { c.rerankFallbacks.Inc() }

// IncCircuitBreakerTrip 记录一次熔断
func (c *Collector) IncCircuitBreakerTrip() { c.circuitBreakerTrips.Inc() }

// ObserveDiversityScore 记录多样化后的多样性分数
func (c *Collector) ObserveDiversityScore(score float64) {
	c.diversityScore.Observe(score)
}
