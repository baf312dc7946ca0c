package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/retrievalflow/retrievalflow/internal/metrics"
	"github.com/retrievalflow/retrievalflow/rag"
)

// =============================================================================
// 💾 分类决策缓存
// =============================================================================

// Config 分类缓存配置
type Config struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled"`

	// 条目过期时间（使用时收到 ≥ 1s）
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 每类（命中/未命中）保留的延迟采样数
	LatencyWindow int `yaml:"latency_window" json:"latency_window"`
}

// DefaultConfig 返回默认分类缓存配置
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		TTL:           time.Hour,
		KeyPrefix:     "clscache:",
		LatencyWindow: 256,
	}
}

// ClassificationCache 内容寻址的分类决策缓存
//
// 键是 (text, 规范化 metadata) 的确定性摘要：metadata 序列化为键有序的
// 规范 JSON，因此键的计算与 metadata 的键顺序无关。条目写入后不可变，
// 只会过期或被覆盖（last-write-wins）。
//
// 缓存只是建议性的，从不权威：构造时 Redis 不可达则进入 disabled 状态
// 而不是让调用方失败；之后每次 Get 返回 nil、每次 Set 是空操作。
// 运行中的存储错误记日志、计入 errors、当作未命中，永远不向调用方抛出。
type ClassificationCache struct {
	redis     *redis.Client
	config    Config
	collector *metrics.Collector // 可选
	logger    *zap.Logger

	mu       sync.Mutex
	disabled bool
	hits     uint64
	misses   uint64
	errors   uint64
	hitLat   *latencyRing
	missLat  *latencyRing
}

// New 创建分类缓存
// collector 可为 nil。Redis ping 失败时缓存以 disabled 状态启动，
// 不返回错误。
func New(client *redis.Client, config Config, collector *metrics.Collector, logger *zap.Logger) *ClassificationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.LatencyWindow <= 0 {
		config.LatencyWindow = DefaultConfig().LatencyWindow
	}

	c := &ClassificationCache{
		redis:     client,
		config:    config,
		collector: collector,
		logger:    logger.With(zap.String("component", "classification_cache")),
		hitLat:    newLatencyRing(config.LatencyWindow),
		missLat:   newLatencyRing(config.LatencyWindow),
	}

	if !config.Enabled || client == nil {
		c.disabled = true
		c.logger.Info("classification cache disabled by configuration")
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// 失败开放：存储不可达时降级为直通，而不是让调用方失败
		c.disabled = true
		c.logger.Warn("cache store unreachable, starting disabled", zap.Error(err))
		return c
	}

	c.logger.Info("classification cache initialized",
		zap.Duration("ttl", config.TTL),
		zap.String("key_prefix", config.KeyPrefix))
	return c
}

// Enabled 返回缓存是否处于可用状态
func (c *ClassificationCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled
}

// Digest 计算 (text, metadata) 的内容摘要
// metadata 序列化为键有序的规范 JSON，键顺序不影响结果。
func Digest(text string, metadata map[string]any) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write(canonicalJSON(metadata))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON 规范 JSON 序列化（encoding/json 对 map 键排序）
func canonicalJSON(metadata map[string]any) []byte {
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		// map[string]any 带不可序列化值的情况：退化为键列表，仍然确定
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return []byte(fmt.Sprintf("%v", keys))
	}
	return data
}

// Get 查询缓存的分类决策
// 真未命中、任何存储错误（记日志并计入 errors）、缓存禁用时都返回 nil。
// 永远不会失败。
func (c *ClassificationCache) Get(ctx context.Context, text string, metadata map[string]any) *rag.ClassificationDecision {
	if !c.Enabled() {
		return nil
	}

	start := time.Now()
	key := c.storageKey(Digest(text, metadata))

	val, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordMiss(time.Since(start))
		return nil
	}
	if err != nil {
		c.recordError("get", err)
		return nil
	}

	var decision rag.ClassificationDecision
	if err := json.Unmarshal(val, &decision); err != nil {
		c.recordError("decode", err)
		return nil
	}

	c.recordHit(time.Since(start))
	return &decision
}

// Set 写入分类决策（尽力而为）
// 写失败记日志后吞掉：缓存从不权威。TTL 收到 ≥ 1s。
func (c *ClassificationCache) Set(ctx context.Context, text string, metadata map[string]any, decision rag.ClassificationDecision) {
	if !c.Enabled() {
		return
	}

	data, err := json.Marshal(decision)
	if err != nil {
		c.recordError("encode", err)
		return
	}

	ttl := c.config.TTL
	if ttl < time.Second {
		ttl = time.Second
	}

	key := c.storageKey(Digest(text, metadata))
	if err := c.redis.SetEx(ctx, key, data, ttl).Err(); err != nil {
		c.recordError("set", err)
	}
}

// DeleteByDigest 按摘要删除条目，返回是否删除了任何内容。永远不会失败。
func (c *ClassificationCache) DeleteByDigest(ctx context.Context, digest string) bool {
	if !c.Enabled() {
		return false
	}

	n, err := c.redis.Del(ctx, c.storageKey(digest)).Result()
	if err != nil {
		c.recordError("delete", err)
		return false
	}
	return n > 0
}

// Clear 清空所有缓存条目并重置统计，返回删除的条目数。永远不会失败。
func (c *ClassificationCache) Clear(ctx context.Context) int {
	if !c.Enabled() {
		return 0
	}

	deleted := 0
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()

	batch := make([]string, 0, 100)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := c.redis.Del(ctx, batch...).Result()
		if err != nil {
			c.recordError("clear", err)
		} else {
			deleted += int(n)
		}
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		c.recordError("scan", err)
	}

	c.resetStats()
	c.logger.Info("classification cache cleared", zap.Int("deleted", deleted))
	return deleted
}

// storageKey 摘要 → 存储键
func (c *ClassificationCache) storageKey(digest string) string {
	return c.config.KeyPrefix + digest
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计快照
type Stats struct {
	Enabled bool    `json:"enabled"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`

	HitLatencyP50  time.Duration `json:"hit_latency_p50"`
	HitLatencyP95  time.Duration `json:"hit_latency_p95"`
	MissLatencyP50 time.Duration `json:"miss_latency_p50"`
	MissLatencyP95 time.Duration `json:"miss_latency_p95"`
}

// GetStats 返回统计快照
func (c *ClassificationCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Enabled: !c.disabled,
		Hits:    c.hits,
		Misses:  c.misses,
		Errors:  c.errors,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	stats.HitLatencyP50 = c.hitLat.percentile(0.50)
	stats.HitLatencyP95 = c.hitLat.percentile(0.95)
	stats.MissLatencyP50 = c.missLat.percentile(0.50)
	stats.MissLatencyP95 = c.missLat.percentile(0.95)
	return stats
}

func (c *ClassificationCache) recordHit(d time.Duration) {
	c.mu.Lock()
	c.hits++
	c.hitLat.add(d)
	c.mu.Unlock()
	if c.collector != nil {
		c.collector.IncCacheHit()
	}
}

func (c *ClassificationCache) recordMiss(d time.Duration) {
	c.mu.Lock()
	c.misses++
	c.missLat.add(d)
	c.mu.Unlock()
	if c.collector != nil {
		c.collector.IncCacheMiss()
	}
}

func (c *ClassificationCache) recordError(op string, err error) {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
	c.logger.Warn("cache operation failed, treated as miss",
		zap.String("op", op),
		zap.Error(err))
	if c.collector != nil {
		c.collector.IncCacheError()
	}
}

func (c *ClassificationCache) resetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.errors = 0, 0, 0
	c.hitLat = newLatencyRing(c.config.LatencyWindow)
	c.missLat = newLatencyRing(c.config.LatencyWindow)
}

// =============================================================================
// 🔧 延迟环形缓冲
// =============================================================================

// latencyRing 固定容量的延迟采样环，内存占用有界
type latencyRing struct {
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyRing(capacity int) *latencyRing {
	return &latencyRing{samples: make([]time.Duration, capacity)}
}

func (r *latencyRing) add(d time.Duration) {
	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// percentile 返回 p 分位数；无采样时返回 0
func (r *latencyRing) percentile(p float64) time.Duration {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	if n == 0 {
		return 0
	}

	sorted := make([]time.Duration, n)
	copy(sorted, r.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(n-1))
	return sorted[idx]
}
