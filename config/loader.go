// =============================================================================
// 📦 RetrievalFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RETRIEVALFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 RetrievalFlow 的完整配置结构
type Config struct {
	// Redis 缓存存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Cache 分类缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Chunking 分块与路由配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Retrieval 检索管线配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Rerank 交叉编码器重排配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// CacheConfig 分类缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 条目过期时间，下限 60s
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 延迟采样窗口
	LatencyWindow int `yaml:"latency_window" env:"LATENCY_WINDOW"`
}

// ChunkingConfig 分块与路由配置
type ChunkingConfig struct {
	// 递归分块目标大小（字符）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 递归分块重叠（字符）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 表格分块最小段长（字符）
	MinSectionLen int `yaml:"min_section_len" env:"MIN_SECTION_LEN"`
	// 分类置信度低于该值走兜底策略
	FallbackThreshold float64 `yaml:"fallback_threshold" env:"FALLBACK_THRESHOLD"`
}

// RetrievalConfig 检索管线配置
type RetrievalConfig struct {
	// 过取倍率，范围 2-5
	OverRetrieveFactor int `yaml:"over_retrieve_factor" env:"OVER_RETRIEVE_FACTOR"`
	// 过取阶段的相似度阈值
	OverRetrieveThreshold float64 `yaml:"over_retrieve_threshold" env:"OVER_RETRIEVE_THRESHOLD"`
	// 重排分数过滤阈值
	RerankThreshold float64 `yaml:"rerank_threshold" env:"RERANK_THRESHOLD"`
	// 基线检索慢于该值时跳过重排
	CircuitBreakerLatency time.Duration `yaml:"circuit_breaker_latency" env:"CIRCUIT_BREAKER_LATENCY"`
	// 是否启用多样化
	EnableDiversification bool `yaml:"enable_diversification" env:"ENABLE_DIVERSIFICATION"`
	// 每文档最大保留块数，范围 1-5
	MaxPerDocument int `yaml:"max_per_document" env:"MAX_PER_DOCUMENT"`
	// 豁免多样化的头部结果数，范围 1-5
	PreserveTopN int `yaml:"preserve_top_n" env:"PRESERVE_TOP_N"`
	// 动态取数下限
	MinMatchCount int `yaml:"min_match_count" env:"MIN_MATCH_COUNT"`
	// 动态取数默认值
	DefaultMatchCount int `yaml:"default_match_count" env:"DEFAULT_MATCH_COUNT"`
	// 动态取数上限
	MaxMatchCount int `yaml:"max_match_count" env:"MAX_MATCH_COUNT"`
}

// RerankConfig 交叉编码器配置
type RerankConfig struct {
	// 模型名称
	ModelName string `yaml:"model_name" env:"MODEL_NAME"`
	// 批大小
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 单条输入最大 token 数
	MaxLength int `yaml:"max_length" env:"MAX_LENGTH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RETRIEVALFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量。加载完成后执行 Normalize
// 把越界数值收回安全范围，再跑注册的验证器。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Normalize()

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验与规范化
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Normalize 把越界的数值收回安全范围
// 检索侧的配置错误不应该让进程起不来：收回范围并依赖调用方日志，
// 而不是返回错误。
func (c *Config) Normalize() {
	// 过取倍率 2-5
	c.Retrieval.OverRetrieveFactor = clampInt(c.Retrieval.OverRetrieveFactor, 2, 5)

	// 阈值 0-1
	c.Retrieval.OverRetrieveThreshold = clampFloat(c.Retrieval.OverRetrieveThreshold, 0, 1)
	c.Retrieval.RerankThreshold = clampFloat(c.Retrieval.RerankThreshold, 0, 1)
	c.Chunking.FallbackThreshold = clampFloat(c.Chunking.FallbackThreshold, 0, 1)

	// 多样化参数 1-5
	c.Retrieval.MaxPerDocument = clampInt(c.Retrieval.MaxPerDocument, 1, 5)
	c.Retrieval.PreserveTopN = clampInt(c.Retrieval.PreserveTopN, 1, 5)

	// 动态取数保持 min ≤ default ≤ max
	if c.Retrieval.MinMatchCount < 1 {
		c.Retrieval.MinMatchCount = 1
	}
	if c.Retrieval.DefaultMatchCount < c.Retrieval.MinMatchCount {
		c.Retrieval.DefaultMatchCount = c.Retrieval.MinMatchCount
	}
	if c.Retrieval.MaxMatchCount < c.Retrieval.DefaultMatchCount {
		c.Retrieval.MaxMatchCount = c.Retrieval.DefaultMatchCount
	}

	// 熔断延迟必须为正
	if c.Retrieval.CircuitBreakerLatency <= 0 {
		c.Retrieval.CircuitBreakerLatency = DefaultRetrievalConfig().CircuitBreakerLatency
	}

	// 缓存 TTL 下限 60s
	if c.Cache.TTL < time.Minute {
		c.Cache.TTL = time.Minute
	}

	// 分块参数必须为正，重叠必须小于块大小
	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = DefaultChunkingConfig().ChunkSize
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		c.Chunking.ChunkOverlap = c.Chunking.ChunkSize / 5
	}
	if c.Chunking.MinSectionLen <= 0 {
		c.Chunking.MinSectionLen = DefaultChunkingConfig().MinSectionLen
	}

	if c.Rerank.BatchSize <= 0 {
		c.Rerank.BatchSize = DefaultRerankConfig().BatchSize
	}
	if c.Rerank.MaxLength <= 0 {
		c.Rerank.MaxLength = DefaultRerankConfig().MaxLength
	}
}

// Validate 验证配置
// 只拒绝无法收回安全范围的错误（缺地址、非法日志级别）。
func (c *Config) Validate() error {
	var errs []string

	if c.Cache.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis addr required when cache is enabled")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}

	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "otlp endpoint required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
