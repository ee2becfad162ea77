package storage

import (
	"github.com/dep2p/go-advcache/config"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// Config Storage 模块配置
//
// 测试代码应使用 t.TempDir() 创建临时目录，确保测试与生产一致。
type Config struct {
	// Path 存储根目录（内存后端可为空）
	Path string

	// Backend 存储后端
	Backend engine.Backend

	// SyncWrites 是否同步写入
	// 启用后每次写入都会同步到磁盘，更安全但性能较低
	SyncWrites bool

	// ReadOnly 只读打开
	ReadOnly bool

	// PageSize B-tree 页大小
	PageSize int

	// NodeCacheSize B-tree 节点缓存条目数
	NodeCacheSize int

	// BlockCacheSize 块缓存大小（字节），作用于 BadgerDB 和 Pebble
	BlockCacheSize int64

	// Compression BadgerDB 压缩级别（0 禁用）
	Compression int

	// DiscardRatio BadgerDB 值日志回收的丢弃比例
	DiscardRatio float64
}

// DefaultConfig 返回默认配置
//
// Path 必须设置为有效的目录路径。
func DefaultConfig() Config {
	def := engine.DefaultConfig("")
	return Config{
		Path:           "./data",
		Backend:        engine.BackendBTree,
		PageSize:       def.BTree.PageSize,
		NodeCacheSize:  def.BTree.NodeCacheSize,
		BlockCacheSize: def.Pebble.CacheSize,
		Compression:    def.Badger.ZSTDCompressionLevel,
		DiscardRatio:   def.Badger.GCDiscardRatio,
	}
}

// ConfigFromUnified 从统一配置创建 Storage 配置
func ConfigFromUnified(cfg *config.Config) Config {
	storageCfg := DefaultConfig()

	if cfg == nil {
		return storageCfg
	}

	sc := cfg.Storage
	if sc.DataDir != "" {
		storageCfg.Path = sc.DataDir
	}
	// 无法识别的名称留给 Validate 报错
	if b, err := engine.ParseBackend(sc.Backend); err == nil {
		storageCfg.Backend = b
	} else {
		storageCfg.Backend = engine.Backend(sc.Backend)
	}
	storageCfg.SyncWrites = sc.SyncWrites
	storageCfg.ReadOnly = sc.ReadOnly
	if sc.PageSize > 0 {
		storageCfg.PageSize = sc.PageSize
	}
	storageCfg.NodeCacheSize = sc.NodeCacheSize
	if sc.BlockCacheSize > 0 {
		storageCfg.BlockCacheSize = sc.BlockCacheSize
	}
	storageCfg.Compression = sc.Compression
	if sc.ValueLogDiscardRatio > 0 {
		storageCfg.DiscardRatio = sc.ValueLogDiscardRatio
	}

	return storageCfg
}

// ToEngineConfig 转换为引擎配置
func (c *Config) ToEngineConfig() *engine.Config {
	engineCfg := engine.DefaultConfig(c.Path).
		WithBackend(c.Backend).
		WithSyncWrites(c.SyncWrites).
		WithReadOnly(c.ReadOnly).
		WithPageSize(c.PageSize).
		WithCompression(c.Compression)

	engineCfg.BTree.NodeCacheSize = c.NodeCacheSize
	engineCfg.Badger.BlockCacheSize = c.BlockCacheSize
	engineCfg.Badger.GCDiscardRatio = c.DiscardRatio
	engineCfg.Pebble.CacheSize = c.BlockCacheSize

	return engineCfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Path == "" && c.Backend != engine.BackendMemory {
		return ErrInvalidConfig
	}
	return c.ToEngineConfig().Validate()
}

// WithPath 设置存储路径
func (c Config) WithPath(path string) Config {
	c.Path = path
	return c
}

// WithBackend 设置存储后端
func (c Config) WithBackend(backend engine.Backend) Config {
	c.Backend = backend
	return c
}

// WithSyncWrites 设置同步写入
func (c Config) WithSyncWrites(sync bool) Config {
	c.SyncWrites = sync
	return c
}

// WithPageSize 设置 B-tree 页大小
func (c Config) WithPageSize(size int) Config {
	c.PageSize = size
	return c
}

// WithBlockCache 设置块缓存大小
func (c Config) WithBlockCache(size int64) Config {
	c.BlockCacheSize = size
	return c
}

// WithCompression 设置压缩级别
func (c Config) WithCompression(level int) Config {
	c.Compression = level
	return c
}
