package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/retrievalflow/retrievalflow/rag"
)

func newTestCache(t *testing.T) (*ClassificationCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := New(client, DefaultConfig(), nil, zap.NewNop())
	require.True(t, c.Enabled())
	return c, mr
}

func TestClassificationCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	decision := rag.ClassificationDecision{
		Category:   rag.CategoryDenseAcademic,
		Confidence: 0.92,
		Reasoning:  "long paragraphs with citation density",
	}

	text := "some document content"
	meta := map[string]any{"source": "arxiv", "pages": float64(12)}

	// 冷读是未命中
	assert.Nil(t, c.Get(ctx, text, meta))

	c.Set(ctx, text, meta, decision)

	got := c.Get(ctx, text, meta)
	require.NotNil(t, got)
	assert.Equal(t, decision.Category, got.Category)
	assert.Equal(t, decision.Confidence, got.Confidence)
	assert.Equal(t, decision.Reasoning, got.Reasoning)

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestClassificationCacheKeyIgnoresMetadataOrder(t *testing.T) {
	// 同内容、不同 map 构造顺序必须落到同一个键
	metaA := map[string]any{"a": "1", "b": "2", "c": "3"}
	metaB := map[string]any{"c": "3", "a": "1", "b": "2"}

	assert.Equal(t, Digest("text", metaA), Digest("text", metaB))
	assert.NotEqual(t, Digest("text", metaA), Digest("other text", metaA))
	assert.NotEqual(t, Digest("text", metaA), Digest("text", map[string]any{"a": "1"}))

	// nil 与空 map 等价
	assert.Equal(t, Digest("text", nil), Digest("text", map[string]any{}))
}

func TestClassificationCacheTTLClamp(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	config := DefaultConfig()
	config.TTL = 10 * time.Millisecond // 低于下限
	c := New(client, config, nil, zap.NewNop())

	ctx := context.Background()
	c.Set(ctx, "text", nil, rag.ClassificationDecision{Category: rag.CategoryNarrative, Confidence: 0.8})

	key := c.storageKey(Digest("text", nil))
	ttl := mr.TTL(key)
	assert.GreaterOrEqual(t, ttl, time.Second, "TTL below floor must be clamped to 1s")
}

func TestClassificationCacheTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "text", nil, rag.ClassificationDecision{Category: rag.CategoryTabularData, Confidence: 0.9})
	require.NotNil(t, c.Get(ctx, "text", nil))

	mr.FastForward(2 * time.Hour)
	assert.Nil(t, c.Get(ctx, "text", nil))
}

func TestClassificationCacheDisabledByConfig(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	c := New(nil, config, nil, zap.NewNop())

	ctx := context.Background()
	assert.False(t, c.Enabled())
	assert.Nil(t, c.Get(ctx, "text", nil))
	c.Set(ctx, "text", nil, rag.ClassificationDecision{Category: rag.CategoryUnknown})
	assert.False(t, c.DeleteByDigest(ctx, Digest("text", nil)))
	assert.Equal(t, 0, c.Clear(ctx))

	stats := c.GetStats()
	assert.False(t, stats.Enabled)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestClassificationCacheDisabledOnUnreachableStore(t *testing.T) {
	// 指向未监听的地址：构造必须成功但进入 disabled 状态
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	c := New(client, DefaultConfig(), nil, zap.NewNop())
	assert.False(t, c.Enabled())
	assert.Nil(t, c.Get(context.Background(), "text", nil))
}

func TestClassificationCacheStoreErrorTreatedAsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "text", nil, rag.ClassificationDecision{Category: rag.CategoryNarrative, Confidence: 0.7})

	// 存储在运行中消失：读必须返回 nil 并计入 errors，不能失败
	mr.Close()

	assert.Nil(t, c.Get(ctx, "text", nil))
	c.Set(ctx, "other", nil, rag.ClassificationDecision{Category: rag.CategoryUnknown})

	stats := c.GetStats()
	assert.True(t, stats.Enabled, "runtime errors must not flip the enabled flag")
	assert.GreaterOrEqual(t, stats.Errors, uint64(2))
}

func TestClassificationCacheCorruptEntryTreatedAsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	key := c.storageKey(Digest("text", nil))
	require.NoError(t, mr.Set(key, "{not json"))

	assert.Nil(t, c.Get(ctx, "text", nil))
	assert.Equal(t, uint64(1), c.GetStats().Errors)
}

func TestClassificationCacheDeleteByDigest(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "text", nil, rag.ClassificationDecision{Category: rag.CategoryMixedScientific, Confidence: 0.85})
	digest := Digest("text", nil)

	assert.True(t, c.DeleteByDigest(ctx, digest))
	assert.False(t, c.DeleteByDigest(ctx, digest), "second delete finds nothing")
	assert.Nil(t, c.Get(ctx, "text", nil))
}

func TestClassificationCacheClear(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		c.Set(ctx, text, nil, rag.ClassificationDecision{Category: rag.CategoryNarrative, Confidence: 0.8})
	}
	require.NotNil(t, c.Get(ctx, "one", nil))

	deleted := c.Clear(ctx)
	assert.Equal(t, 3, deleted)

	stats := c.GetStats()
	assert.Zero(t, stats.Hits, "clear resets statistics")
	assert.Zero(t, stats.Misses)

	assert.Nil(t, c.Get(ctx, "one", nil))
}

func TestClassificationCacheLatencyPercentiles(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "text", nil, rag.ClassificationDecision{Category: rag.CategoryDenseAcademic, Confidence: 0.95})
	for i := 0; i < 10; i++ {
		require.NotNil(t, c.Get(ctx, "text", nil))
		assert.Nil(t, c.Get(ctx, "absent", nil))
	}

	stats := c.GetStats()
	assert.Greater(t, stats.HitLatencyP95, time.Duration(0))
	assert.GreaterOrEqual(t, stats.HitLatencyP95, stats.HitLatencyP50)
	assert.GreaterOrEqual(t, stats.MissLatencyP95, stats.MissLatencyP50)
}

func TestLatencyRingBounded(t *testing.T) {
	r := newLatencyRing(4)
	for i := 1; i <= 100; i++ {
		r.add(time.Duration(i) * time.Millisecond)
	}
	// 只保留最近 4 个采样：97..100ms
	assert.Equal(t, 97*time.Millisecond, r.percentile(0))
	assert.Equal(t, 100*time.Millisecond, r.percentile(1.0))
}
