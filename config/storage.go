package config

import (
	"fmt"
)

// 支持的存储后端名称
const (
	BackendBTree  = "btree"
	BackendBadger = "badger"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// StorageConfig 存储配置
//
// 一个部署只有一个存储根目录，根目录下每个区域（area）是一个逻辑子存储。
// 同一根目录下的所有区域共享一个引擎实例。
//
// 数据目录结构：
//
//	${DataDir}/
//	├── advcache.tbl        # 页式 B-tree 页文件（btree 后端）
//	├── badger/             # BadgerDB 数据（badger 后端）
//	└── pebble/             # Pebble 数据（pebble 后端）
type StorageConfig struct {
	// DataDir 存储根目录
	// 默认值: "./data"
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Backend 存储后端：btree | badger | pebble | memory
	// 默认值: "btree"
	Backend string `json:"backend" yaml:"backend"`

	// SyncWrites 每次提交是否同步到磁盘
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// ReadOnly 只读打开
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// PageSize B-tree 页大小（字节）
	// 默认值: 4096
	PageSize int `json:"page_size" yaml:"page_size"`

	// NodeCacheSize B-tree 已解码节点缓存条目数
	// 默认值: 1024
	NodeCacheSize int `json:"node_cache_size" yaml:"node_cache_size"`

	// BlockCacheSize LSM 后端块缓存大小（字节）
	// 默认值: 64MB
	BlockCacheSize int64 `json:"block_cache_size" yaml:"block_cache_size"`

	// Compression BadgerDB ZSTD 压缩级别（0 禁用）
	Compression int `json:"compression" yaml:"compression"`

	// ValueLogDiscardRatio BadgerDB 在 Compact 中回收值日志文件的丢弃比例，取值 (0, 1)
	// 默认值: 0.5
	ValueLogDiscardRatio float64 `json:"value_log_discard_ratio" yaml:"value_log_discard_ratio"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:              "./data",
		Backend:              BackendBTree,
		PageSize:             4 << 10,
		NodeCacheSize:        1024,
		BlockCacheSize:       64 << 20,
		Compression:          1,
		ValueLogDiscardRatio: 0.5,
	}
}

// Validate 验证存储配置的有效性
func (c *StorageConfig) Validate() error {
	switch normalizeBackend(c.Backend) {
	case "", BackendBTree, BackendBadger, BackendPebble:
		if c.DataDir == "" {
			return fmt.Errorf("storage: data_dir cannot be empty")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Backend)
	}
	if c.PageSize < 1<<10 || c.PageSize > 64<<10 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("storage: page_size %d must be a power of two in [1KB, 64KB]", c.PageSize)
	}
	if c.NodeCacheSize < 0 {
		return fmt.Errorf("storage: node_cache_size cannot be negative")
	}
	if c.BlockCacheSize < 0 {
		return fmt.Errorf("storage: block_cache_size cannot be negative")
	}
	if c.ValueLogDiscardRatio <= 0 || c.ValueLogDiscardRatio >= 1 {
		return fmt.Errorf("storage: value_log_discard_ratio %v must be in (0, 1)", c.ValueLogDiscardRatio)
	}
	return nil
}
