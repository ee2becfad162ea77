package config

import (
	"fmt"
	"regexp"
)

// areaPattern 区域名只允许可打印的标识符字符
var areaPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,255}$`)

// CacheConfig 通告缓存配置
type CacheConfig struct {
	// Area 默认区域名（通常是对等组 ID）
	// 默认值: "default"
	Area string `json:"area" yaml:"area"`

	// CreateIfMissing 打开不存在的区域时自动创建
	// 关闭后打开未知区域返回 ColNotFound 故障
	// 默认值: true
	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing"`

	// RecordCacheSize 热记录 LRU 缓存的条目数（0 禁用）
	// 默认值: 256
	RecordCacheSize int `json:"record_cache_size" yaml:"record_cache_size"`

	// TrackDeltas 记录每次保存新增的属性索引项，供 SRDI 增量推送
	TrackDeltas bool `json:"track_deltas" yaml:"track_deltas"`

	// MaxDeltas 每个目录最多保留的增量条目数
	// 默认值: 1024
	MaxDeltas int `json:"max_deltas" yaml:"max_deltas"`

	// EnableMetrics 注册 Prometheus 指标
	// 默认值: true
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics"`
}

// DefaultCacheConfig 返回默认的通告缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Area:            "default",
		CreateIfMissing: true,
		RecordCacheSize: 256,
		MaxDeltas:       1024,
		EnableMetrics:   true,
	}
}

// Validate 验证通告缓存配置
func (c *CacheConfig) Validate() error {
	if !ValidArea(c.Area) {
		return fmt.Errorf("cache: invalid area name %q", c.Area)
	}
	if c.RecordCacheSize < 0 {
		return fmt.Errorf("cache: record_cache_size cannot be negative")
	}
	if c.MaxDeltas < 0 {
		return fmt.Errorf("cache: max_deltas cannot be negative")
	}
	return nil
}

// ValidArea 检查区域名是否合法
func ValidArea(name string) bool {
	return areaPattern.MatchString(name)
}
