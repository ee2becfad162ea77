package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保持默认值。
//
// 示例 JSON:
//
//	{
//	  "storage": {"data_dir": "/var/lib/advcache", "backend": "btree"},
//	  "cache": {"area": "peergroup-1", "track_deltas": true}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// FromYAML 从 YAML 数据创建配置
//
// 示例 YAML:
//
//	storage:
//	  data_dir: /var/lib/advcache
//	  backend: pebble
//	cache:
//	  record_cache_size: 512
func FromYAML(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从文件加载并验证配置
//
// .yaml / .yml 按 YAML 解析，其余按 JSON 解析。
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = FromYAML(data)
	default:
		cfg, err = FromJSON(data)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "desktop": 默认配置
//   - "server": 大缓存、同步写入、开启增量跟踪
//   - "minimal": 内存后端，适合测试和开发
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch presetName {
	case "desktop", "":
		return nil
	case "server":
		return applyServerPreset(cfg)
	case "minimal":
		return applyMinimalPreset(cfg)
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
}

// applyServerPreset 应用服务器预设
func applyServerPreset(cfg *Config) error {
	cfg.Storage.SyncWrites = true
	cfg.Storage.NodeCacheSize = 8192
	cfg.Storage.BlockCacheSize = 256 << 20 // 256MB
	cfg.Storage.ValueLogDiscardRatio = 0.3

	cfg.Cache.RecordCacheSize = 4096
	cfg.Cache.TrackDeltas = true
	cfg.Cache.MaxDeltas = 8192
	return nil
}

// applyMinimalPreset 应用最小预设
func applyMinimalPreset(cfg *Config) error {
	cfg.Storage.Backend = BackendMemory
	cfg.Storage.NodeCacheSize = 64
	cfg.Storage.BlockCacheSize = 8 << 20

	cfg.Cache.RecordCacheSize = 0
	cfg.Cache.EnableMetrics = false
	return nil
}

// CloneConfig 克隆配置
func CloneConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	return &cloned
}
