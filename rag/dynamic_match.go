package rag

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// DynamicMatchConfig 动态检索数量配置
type DynamicMatchConfig struct {
	MinMatchCount     int `json:"min_match_count"`
	DefaultMatchCount int `json:"default_match_count"`
	MaxMatchCount     int `json:"max_match_count"`
}

// DefaultDynamicMatchConfig 默认动态检索数量配置
func DefaultDynamicMatchConfig() DynamicMatchConfig {
	return DynamicMatchConfig{
		MinMatchCount:     3,
		DefaultMatchCount: 5,
		MaxMatchCount:     10,
	}
}

// 简单/定义型查询的标记短语 → 取 min
var simpleQueryMarkers = []string{
	"what is",
	"what are",
	"who is",
	"define",
	"definition of",
	"meaning of",
}

// 复杂/比较型查询的标记短语 → 取 max
var complexQueryMarkers = []string{
	"compare",
	"difference between",
	"differences between",
	"versus",
	" vs ",
	"relationship between",
	"impact of",
	"effect of",
	"trade-off",
	"pros and cons",
	"advantages and disadvantages",
}

var (
	// 大写多词短语，如 "Support Vector Machines"
	entityPhrasePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)

	// 类型化名词模式，如 "the transformer model"
	typedNounPattern = regexp.MustCompile(`(?i)\b(?:the|a|an)\s+[a-z][a-z-]*\s+(?:model|method|algorithm|system|protocol|framework|dataset|architecture|theorem)\b`)
)

// maxEntityEstimate 实体估计上限
const maxEntityEstimate = 5

// DynamicStrategy 动态检索规模策略
// 按有序决策表决定单次查询的检索数量，第一个命中的规则生效：
//
//  1. 空白查询 → default
//  2. 含简单/定义型标记短语 → min
//  3. 含复杂/比较型标记短语 → max
//  4. 按词数：严格少于 6 词 → min；严格多于 12 词 → max；否则 default
//  5. 仅在规则 4 中：估计领域实体数（上限 5），超过 1 时加
//     min(entities-1, 2)，再收到 max
//
// 无 I/O，相同查询与配置下完全确定。
type DynamicStrategy struct {
	config DynamicMatchConfig
	logger *zap.Logger
}

// NewDynamicStrategy 创建动态检索规模策略
func NewDynamicStrategy(config DynamicMatchConfig, logger *zap.Logger) *DynamicStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}

	def := DefaultDynamicMatchConfig()
	if config.MinMatchCount <= 0 {
		config.MinMatchCount = def.MinMatchCount
	}
	if config.MaxMatchCount < config.MinMatchCount {
		config.MaxMatchCount = config.MinMatchCount
	}
	if config.DefaultMatchCount < config.MinMatchCount {
		config.DefaultMatchCount = config.MinMatchCount
	}
	if config.DefaultMatchCount > config.MaxMatchCount {
		config.DefaultMatchCount = config.MaxMatchCount
	}

	return &DynamicStrategy{
		config: config,
		logger: logger.With(zap.String("component", "dynamic_match")),
	}
}

// OptimalMatchCount 返回查询的最优检索数量，结果总在 [min, max] 内
func (s *DynamicStrategy) OptimalMatchCount(query string) int {
	minCount := s.config.MinMatchCount
	defCount := s.config.DefaultMatchCount
	maxCount := s.config.MaxMatchCount

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return defCount
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range simpleQueryMarkers {
		if strings.Contains(lower, marker) {
			return minCount
		}
	}
	for _, marker := range complexQueryMarkers {
		if strings.Contains(lower, marker) {
			return maxCount
		}
	}

	words := len(strings.Fields(trimmed))
	var count int
	switch {
	case words < 6:
		count = minCount
	case words > 12:
		count = maxCount
	default:
		count = defCount
	}

	// 实体数只在词数分支参与：多实体查询需要更大的候选池
	if entities := s.estimateEntityCount(trimmed); entities > 1 {
		boost := entities - 1
		if boost > 2 {
			boost = 2
		}
		count += boost
		s.logger.Debug("entity boost applied",
			zap.Int("entities", entities),
			zap.Int("boost", boost))
	}

	if count > maxCount {
		count = maxCount
	}
	if count < minCount {
		count = minCount
	}
	return count
}

// estimateEntityCount 用模式匹配估计查询中的领域实体数，上限 5
func (s *DynamicStrategy) estimateEntityCount(query string) int {
	count := len(entityPhrasePattern.FindAllString(query, -1))
	count += len(typedNounPattern.FindAllString(query, -1))

	if count > maxEntityEstimate {
		count = maxEntityEstimate
	}
	return count
}
