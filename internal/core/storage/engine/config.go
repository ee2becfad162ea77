package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend 存储后端类型
type Backend string

// 支持的存储后端
const (
	// BackendBTree 单文件页式 B-tree（默认）
	BackendBTree Backend = "btree"

	// BackendBadger BadgerDB
	BackendBadger Backend = "badger"

	// BackendPebble Pebble
	BackendPebble Backend = "pebble"

	// BackendMemory 内存引擎（不持久化，测试用）
	BackendMemory Backend = "memory"
)

// ParseBackend 解析后端名称（不区分大小写）
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case BackendBTree, BackendBadger, BackendPebble, BackendMemory:
		return b, nil
	case "":
		return BackendBTree, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Config 存储引擎配置
//
// 测试代码应使用 t.TempDir() 创建临时目录，确保测试与生产一致。
type Config struct {
	// Path 数据目录路径（必需，内存引擎除外）
	Path string

	// Backend 存储后端，默认 btree
	Backend Backend

	// SyncWrites 是否同步写入
	// 启用后每次写入都会同步到磁盘，更安全但性能较低
	SyncWrites bool

	// NumVersionsToKeep 保留的版本数
	// 用于 MVCC，默认为 1（仅保留最新版本）
	NumVersionsToKeep int

	// ReadOnly 是否只读模式
	// 只读模式下不能进行写入操作
	ReadOnly bool

	// Logger 日志记录器
	// 如果为 nil，将禁用日志
	Logger Logger

	// BTree 特定选项
	BTree BTreeOptions

	// Badger 特定选项
	Badger BadgerOptions

	// Pebble 特定选项
	Pebble PebbleOptions
}

// BTreeOptions 页式 B-tree 引擎选项
type BTreeOptions struct {
	// FileName 页文件名（位于 Path 目录下）
	// 默认 "advcache.tbl"
	FileName string

	// PageSize 页大小（字节），必须是 2 的幂，范围 [1KB, 64KB]
	// 默认 4KB
	PageSize int

	// NodeCacheSize 已解码节点缓存的条目数
	// 默认 1024
	NodeCacheSize int

	// LockFile 是否对页文件加排他锁，防止多个进程同时打开
	// 默认 true
	LockFile bool
}

// PebbleOptions Pebble 特定选项
type PebbleOptions struct {
	// CacheSize 块缓存大小（字节）
	// 默认 64MB
	CacheSize int64

	// MemTableSize 内存表大小（字节）
	// 默认 4MB
	MemTableSize uint64
}

// BadgerOptions BadgerDB 特定选项
type BadgerOptions struct {
	// MemTableSize 内存表大小（字节）
	// 默认 64MB
	MemTableSize int64

	// ValueLogFileSize 值日志文件大小（字节）
	// 默认 1GB
	ValueLogFileSize int64

	// NumMemtables 内存表数量
	// 默认 5
	NumMemtables int

	// NumLevelZeroTables Level 0 表数量阈值
	// 超过此值会触发压缩
	// 默认 5
	NumLevelZeroTables int

	// NumLevelZeroTablesStall Level 0 表数量停滞阈值
	// 超过此值会暂停写入
	// 默认 15
	NumLevelZeroTablesStall int

	// ValueLogMaxEntries 值日志最大条目数
	// 默认 1000000
	ValueLogMaxEntries uint32

	// ValueThreshold 值大小阈值
	// 大于此值的值会存储在值日志中
	// 默认 1KB
	ValueThreshold int64

	// BlockCacheSize 块缓存大小（字节）
	// 默认 256MB
	BlockCacheSize int64

	// IndexCacheSize 索引缓存大小（字节）
	// 默认 0（禁用）
	IndexCacheSize int64

	// NumCompactors 压缩器数量
	// 默认 4
	NumCompactors int

	// CompactL0OnClose 关闭时是否压缩 L0
	// 默认 false
	CompactL0OnClose bool

	// ZSTDCompressionLevel ZSTD 压缩级别
	// 0 表示禁用压缩
	// 默认 1
	ZSTDCompressionLevel int

	// GCDiscardRatio Compact 回收值日志文件的丢弃比例，取值 (0, 1)
	// 默认 0.5
	GCDiscardRatio float64
}

// Logger 日志接口
type Logger interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// DefaultConfig 返回默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:              path,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
		ReadOnly:          false,
		Logger:            nil,
		Backend:           BackendBTree,
		BTree:             DefaultBTreeOptions(),
		Badger:            DefaultBadgerOptions(),
		Pebble:            DefaultPebbleOptions(),
	}
}

// DefaultBTreeOptions 返回默认 B-tree 选项
func DefaultBTreeOptions() BTreeOptions {
	return BTreeOptions{
		FileName:      "advcache.tbl",
		PageSize:      4 << 10, // 4KB
		NodeCacheSize: 1024,
		LockFile:      true,
	}
}

// DefaultPebbleOptions 返回默认 Pebble 选项
func DefaultPebbleOptions() PebbleOptions {
	return PebbleOptions{
		CacheSize:    64 << 20, // 64MB
		MemTableSize: 4 << 20,  // 4MB
	}
}

// DefaultBadgerOptions 返回默认 BadgerDB 选项
func DefaultBadgerOptions() BadgerOptions {
	return BadgerOptions{
		MemTableSize:            64 << 20, // 64MB
		ValueLogFileSize:        1 << 30,  // 1GB
		NumMemtables:            5,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 15,
		ValueLogMaxEntries:      1000000,
		ValueThreshold:          1 << 10,   // 1KB
		BlockCacheSize:          256 << 20, // 256MB
		IndexCacheSize:          0,
		NumCompactors:           4,
		CompactL0OnClose:        false,
		ZSTDCompressionLevel:    1,
		GCDiscardRatio:          0.5,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	backend, err := ParseBackend(string(c.Backend))
	if err != nil {
		return err
	}
	c.Backend = backend

	// 除内存引擎外 Path 是必需的
	if c.Path == "" && c.Backend != BackendMemory {
		return ErrInvalidConfig
	}

	switch c.Backend {
	case BackendBTree:
		return c.BTree.Validate()
	case BackendBadger:
		if c.NumVersionsToKeep < 1 {
			return ErrInvalidConfig
		}
		if c.Badger.MemTableSize < 1<<20 { // 最小 1MB
			return ErrInvalidConfig
		}
		if c.Badger.ValueLogFileSize < 1<<20 { // 最小 1MB
			return ErrInvalidConfig
		}
		if r := c.Badger.GCDiscardRatio; r <= 0 || r >= 1 {
			return fmt.Errorf("%w: badger gc discard ratio %v", ErrInvalidConfig, r)
		}
	case BackendPebble:
		if c.Pebble.CacheSize < 0 {
			return ErrInvalidConfig
		}
	}

	return nil
}

// Validate 验证 B-tree 选项
func (o *BTreeOptions) Validate() error {
	if o.FileName == "" || strings.ContainsAny(o.FileName, `/\`) {
		return fmt.Errorf("%w: btree file name %q", ErrInvalidConfig, o.FileName)
	}
	if o.PageSize < 1<<10 || o.PageSize > 64<<10 || o.PageSize&(o.PageSize-1) != 0 {
		return NewFault(DBBadPageSize, "validate", fmt.Errorf("page size %d", o.PageSize))
	}
	if o.NodeCacheSize < 0 {
		return fmt.Errorf("%w: node cache size %d", ErrInvalidConfig, o.NodeCacheSize)
	}
	return nil
}

// EnsureDir 确保数据目录存在
//
// 路径已存在但不是目录时返回 URINotADir 故障。
func (c *Config) EnsureDir() error {
	// 获取绝对路径
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return NewFault(URIInvalidPath, "ensure dir", err)
	}
	c.Path = absPath

	if fi, err := os.Stat(c.Path); err == nil && !fi.IsDir() {
		return Faultf(URINotADir, "ensure dir", "%s is not a directory", c.Path)
	}

	// 创建目录
	return IOFault("ensure dir", os.MkdirAll(c.Path, 0755))
}

// Clone 克隆配置
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// WithBackend 设置存储后端
func (c *Config) WithBackend(backend Backend) *Config {
	c.Backend = backend
	return c
}

// WithPageSize 设置 B-tree 页大小
func (c *Config) WithPageSize(size int) *Config {
	c.BTree.PageSize = size
	return c
}

// WithPath 设置数据路径
func (c *Config) WithPath(path string) *Config {
	c.Path = path
	return c
}

// WithSyncWrites 设置同步写入
func (c *Config) WithSyncWrites(sync bool) *Config {
	c.SyncWrites = sync
	return c
}

// WithReadOnly 设置只读模式
func (c *Config) WithReadOnly(readOnly bool) *Config {
	c.ReadOnly = readOnly
	return c
}

// WithLogger 设置日志记录器
func (c *Config) WithLogger(logger Logger) *Config {
	c.Logger = logger
	return c
}

// WithBlockCacheSize 设置块缓存大小
func (c *Config) WithBlockCacheSize(size int64) *Config {
	c.Badger.BlockCacheSize = size
	return c
}

// WithCompression 设置压缩级别
func (c *Config) WithCompression(level int) *Config {
	c.Badger.ZSTDCompressionLevel = level
	return c
}
