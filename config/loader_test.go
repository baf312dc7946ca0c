// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证 Redis 默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 10, cfg.Redis.PoolSize)

	// 验证缓存默认值
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "clscache:", cfg.Cache.KeyPrefix)

	// 验证分块默认值
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 160, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 400, cfg.Chunking.MinSectionLen)
	assert.Equal(t, 0.7, cfg.Chunking.FallbackThreshold)

	// 验证检索管线默认值
	assert.Equal(t, 3, cfg.Retrieval.OverRetrieveFactor)
	assert.Equal(t, 0.4, cfg.Retrieval.OverRetrieveThreshold)
	assert.Equal(t, 0.2, cfg.Retrieval.RerankThreshold)
	assert.Equal(t, time.Second, cfg.Retrieval.CircuitBreakerLatency)
	assert.True(t, cfg.Retrieval.EnableDiversification)
	assert.Equal(t, 2, cfg.Retrieval.MaxPerDocument)
	assert.Equal(t, 3, cfg.Retrieval.PreserveTopN)
	assert.Equal(t, 3, cfg.Retrieval.MinMatchCount)
	assert.Equal(t, 5, cfg.Retrieval.DefaultMatchCount)
	assert.Equal(t, 10, cfg.Retrieval.MaxMatchCount)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Retrieval.OverRetrieveFactor)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
redis:
  addr: "redis.internal:6380"
retrieval:
  over_retrieve_factor: 4
  rerank_threshold: 0.35
  circuit_breaker_latency: 750ms
chunking:
  chunk_size: 1000
  chunk_overlap: 200
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Retrieval.OverRetrieveFactor)
	assert.Equal(t, 0.35, cfg.Retrieval.RerankThreshold)
	assert.Equal(t, 750*time.Millisecond, cfg.Retrieval.CircuitBreakerLatency)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 0.4, cfg.Retrieval.OverRetrieveThreshold)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("RETRIEVALFLOW_REDIS_ADDR", "env.redis:6379")
	t.Setenv("RETRIEVALFLOW_RETRIEVAL_OVER_RETRIEVE_FACTOR", "5")
	t.Setenv("RETRIEVALFLOW_RETRIEVAL_CIRCUIT_BREAKER_LATENCY", "2s")
	t.Setenv("RETRIEVALFLOW_CACHE_ENABLED", "false")
	t.Setenv("RETRIEVALFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/retrievalflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "env.redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Retrieval.OverRetrieveFactor)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.CircuitBreakerLatency)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/retrievalflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: file.redis:6379\n"), 0o644))

	t.Setenv("RETRIEVALFLOW_REDIS_ADDR", "env.redis:6379")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "env.redis:6379", cfg.Redis.Addr)
}

func TestLoader_CustomValidator(t *testing.T) {
	failing := func(c *Config) error {
		return assert.AnError
	}
	_, err := NewLoader().WithValidator(failing).Load()
	assert.Error(t, err)
}

// --- Normalize 测试 ---

func TestNormalize_ClampsRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retrieval.OverRetrieveFactor = 10
	cfg.Retrieval.OverRetrieveThreshold = 1.5
	cfg.Retrieval.RerankThreshold = -0.3
	cfg.Retrieval.MaxPerDocument = 0
	cfg.Retrieval.PreserveTopN = 99
	cfg.Retrieval.CircuitBreakerLatency = -time.Second
	cfg.Cache.TTL = time.Second
	cfg.Chunking.ChunkOverlap = 800 // 等于块大小，非法

	cfg.Normalize()

	assert.Equal(t, 5, cfg.Retrieval.OverRetrieveFactor)
	assert.Equal(t, 1.0, cfg.Retrieval.OverRetrieveThreshold)
	assert.Equal(t, 0.0, cfg.Retrieval.RerankThreshold)
	assert.Equal(t, 1, cfg.Retrieval.MaxPerDocument)
	assert.Equal(t, 5, cfg.Retrieval.PreserveTopN)
	assert.Equal(t, time.Second, cfg.Retrieval.CircuitBreakerLatency)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 160, cfg.Chunking.ChunkOverlap)
}

func TestNormalize_MatchCountOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retrieval.MinMatchCount = 8
	cfg.Retrieval.DefaultMatchCount = 5
	cfg.Retrieval.MaxMatchCount = 3

	cfg.Normalize()

	assert.LessOrEqual(t, cfg.Retrieval.MinMatchCount, cfg.Retrieval.DefaultMatchCount)
	assert.LessOrEqual(t, cfg.Retrieval.DefaultMatchCount, cfg.Retrieval.MaxMatchCount)
}

// --- Validate 测试 ---

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.OTLPEndpoint = ""
	assert.Error(t, cfg.Validate())
}
