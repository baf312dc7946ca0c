// Package config 提供 RetrievalFlow 的配置管理功能。
//
// 包含配置加载与校验。支持从 YAML 文件和环境变量加载配置，
// 优先级为 默认值 → 文件 → 环境变量，越界的数值在校验阶段
// 收到安全范围而不是报错。
package config
