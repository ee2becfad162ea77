package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateAll 验证整个配置的有效性
//
// 这是 Config.Validate() 的别名，提供更明确的语义。
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// ValidateAndFix 验证配置并尝试自动修复常见问题
//
// 可修复的问题：
//   - 后端名称大小写或空白 -> 规范化
//   - 空后端 -> btree
//   - 页大小与值日志丢弃比例为 0 -> 默认值
//   - 关闭增量跟踪时 MaxDeltas 为 0 -> 默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	c.Storage.Backend = normalizeBackend(c.Storage.Backend)
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendBTree
	}
	if c.Storage.PageSize == 0 {
		c.Storage.PageSize = DefaultStorageConfig().PageSize
	}
	if c.Storage.ValueLogDiscardRatio == 0 {
		c.Storage.ValueLogDiscardRatio = DefaultStorageConfig().ValueLogDiscardRatio
	}
	if c.Cache.MaxDeltas == 0 {
		c.Cache.MaxDeltas = DefaultCacheConfig().MaxDeltas
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}
	return c, nil
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
// 生产代码应使用 Validate() 并处理错误。
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}
}

func normalizeBackend(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
