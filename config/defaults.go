// =============================================================================
// 📦 RetrievalFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Redis:     DefaultRedisConfig(),
		Cache:     DefaultCacheConfig(),
		Chunking:  DefaultChunkingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Rerank:    DefaultRerankConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultCacheConfig 返回默认分类缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		TTL:           time.Hour,
		KeyPrefix:     "clscache:",
		LatencyWindow: 256,
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:         800,
		ChunkOverlap:      160,
		MinSectionLen:     400,
		FallbackThreshold: 0.7,
	}
}

// DefaultRetrievalConfig 返回默认检索管线配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		OverRetrieveFactor:    3,
		OverRetrieveThreshold: 0.4,
		RerankThreshold:       0.2,
		CircuitBreakerLatency: time.Second,
		EnableDiversification: true,
		MaxPerDocument:        2,
		PreserveTopN:          3,
		MinMatchCount:         3,
		DefaultMatchCount:     5,
		MaxMatchCount:         10,
	}
}

// DefaultRerankConfig 返回默认交叉编码器配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		ModelName: "cross-encoder/ms-marco-MiniLM-L-6-v2",
		BatchSize: 32,
		MaxLength: 512,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "retrievalflow",
		SampleRate:   0.1,
	}
}
