package badger

import (
	"errors"
	"path/filepath"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/pkg/lib/log"
	"github.com/dgraph-io/badger/v4"
)

var logger = log.Logger("storage/badger")

// dataDir BadgerDB 数据位于 Path 下的子目录
const dataDir = "badger"

// Engine BadgerDB 存储引擎
//
// 引擎本身不启动任何 goroutine；值日志回收只在 Compact 中进行。
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	stats struct {
		numReads    atomic.Int64
		numWrites   atomic.Int64
		numDeletes  atomic.Int64
		cacheHits   atomic.Int64
		cacheMisses atomic.Int64
	}
}

// New 打开 Path/badger 下的 BadgerDB
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	cfg = cfg.Clone()
	cfg.Backend = engine.BackendBadger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	opts := buildBadgerOptions(cfg)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, convertError(err)
	}
	logger.Debug("打开 badger", "path", opts.Dir, "readOnly", cfg.ReadOnly)

	return &Engine{db: db, config: cfg}, nil
}

// buildBadgerOptions 根据配置构建 BadgerDB 选项
func buildBadgerOptions(cfg *engine.Config) badger.Options {
	b := cfg.Badger
	opts := badger.DefaultOptions(filepath.Join(cfg.Path, dataDir)).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(cfg.NumVersionsToKeep).
		WithReadOnly(cfg.ReadOnly).
		WithMemTableSize(b.MemTableSize).
		WithValueLogFileSize(b.ValueLogFileSize).
		WithNumMemtables(b.NumMemtables).
		WithNumLevelZeroTables(b.NumLevelZeroTables).
		WithNumLevelZeroTablesStall(b.NumLevelZeroTablesStall).
		WithValueLogMaxEntries(b.ValueLogMaxEntries).
		WithValueThreshold(b.ValueThreshold).
		WithBlockCacheSize(b.BlockCacheSize).
		WithIndexCacheSize(b.IndexCacheSize).
		WithNumCompactors(b.NumCompactors).
		WithCompactL0OnClose(b.CompactL0OnClose).
		WithZSTDCompressionLevel(b.ZSTDCompressionLevel)

	if cfg.Logger != nil {
		return opts.WithLogger(&badgerLogger{cfg.Logger})
	}
	return opts.WithLogger(nil)
}

// badgerLogger 把 engine.Logger 适配为 badger.Logger
type badgerLogger struct {
	logger engine.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warningf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Start 不做任何事，保留以满足 InternalEngine
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

// --- interfaces.Engine ---

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if err := engine.CheckKey("get", key); err != nil {
		return nil, err
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	e.stats.numReads.Add(1)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		e.stats.cacheMisses.Add(1)
		return nil, engine.ErrNotFound
	case err != nil:
		return nil, convertError(err)
	}
	e.stats.cacheHits.Add(1)
	return value, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.Apply([]engine.Op{{Key: key, Value: value}})
}

// Delete 删除指定键，键不存在时不报错
func (e *Engine) Delete(key []byte) error {
	return e.Apply([]engine.Op{{Key: key, Delete: true}})
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	if e.closed.Load() {
		return false, engine.ErrClosed
	}
	if err := engine.CheckKey("has", key); err != nil {
		return false, err
	}

	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	}
	return false, convertError(err)
}

// Close 关闭存储引擎，多次调用是安全的
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return convertError(e.db.Close())
}

// --- engine.InternalEngine ---

// NewIterator 创建读取当前快照的迭代器
func (e *Engine) NewIterator(opts *engine.IteratorOptions) engine.Iterator {
	if opts == nil {
		opts = engine.DefaultIteratorOptions()
	}
	if e.closed.Load() {
		it := &Iterator{err: engine.ErrClosed}
		it.closed.Store(true)
		return it
	}

	txn := e.db.NewTransaction(false)
	bo := badger.DefaultIteratorOptions
	bo.Reverse = opts.Reverse
	bo.PrefetchSize = opts.PrefetchSize
	bo.PrefetchValues = opts.PrefetchValues
	if len(opts.Prefix) > 0 {
		bo.Prefix = opts.Prefix
	}

	return &Iterator{
		txn:      txn,
		iter:     txn.NewIterator(bo),
		prefix:   opts.Prefix,
		startKey: opts.StartKey,
		endKey:   opts.EndKey,
		reverse:  opts.Reverse,
	}
}

// NewPrefixIterator 创建前缀迭代器
func (e *Engine) NewPrefixIterator(prefix []byte) engine.Iterator {
	return e.NewIterator(&engine.IteratorOptions{
		Prefix:         prefix,
		PrefetchSize:   100,
		PrefetchValues: true,
	})
}

// Compact 回收值日志并整理 LSM
//
// RunValueLogGC 反复执行直到没有可回收的文件（ErrNoRewrite）或
// 另一次回收正在进行（ErrRejected）。只读模式下直接返回。
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return nil
	}

	rewrites := 0
	for {
		err := e.db.RunValueLogGC(e.config.Badger.GCDiscardRatio)
		if err == nil {
			rewrites++
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		return convertError(err)
	}
	logger.Debug("值日志回收完成", "rewrites", rewrites)

	workers := e.config.Badger.NumCompactors
	if workers < 1 {
		workers = 1
	}
	return convertError(e.db.Flatten(workers))
}

// Sync 把已提交的写入强制落盘
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return convertError(e.db.Sync())
}

// Stats 获取引擎统计信息
func (e *Engine) Stats() *engine.Stats {
	stats := &engine.Stats{
		CacheHits:   e.stats.cacheHits.Load(),
		CacheMisses: e.stats.cacheMisses.Load(),
		NumWrites:   e.stats.numWrites.Load(),
		NumReads:    e.stats.numReads.Load(),
		NumDeletes:  e.stats.numDeletes.Load(),
	}
	if e.closed.Load() {
		return stats
	}

	lsm, vlog := e.db.Size()
	stats.KeyCount = e.countKeys()
	stats.DiskSize = lsm + vlog
	stats.LSMSize = lsm
	stats.VlogSize = vlog
	return stats
}

// maxCountedKeys Stats 最多数到的键数
const maxCountedKeys = 10000

// countKeys 只遍历键，超过 maxCountedKeys 时截断
func (e *Engine) countKeys() int64 {
	var n int64
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid() && n < maxCountedKeys; it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		logger.Debug("统计键数量失败", "error", err)
		return 0
	}
	return n
}

// DB 返回底层 BadgerDB 实例
func (e *Engine) DB() *badger.DB {
	return e.db
}

// convertError 把 BadgerDB 错误映射为引擎错误
//
// 无法对应哨兵错误的归类为 RuntimeIO 故障。
func convertError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrTxnTooBig):
		return engine.ErrTransactionTooLarge
	case errors.Is(err, badger.ErrConflict):
		return engine.ErrTransactionConflict
	case errors.Is(err, badger.ErrDiscardedTxn):
		return engine.ErrTransactionDiscarded
	case errors.Is(err, badger.ErrReadOnlyTxn):
		return engine.ErrReadOnly
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return engine.IOFault("badger", err)
	}
}

var (
	_ engine.InternalEngine = (*Engine)(nil)
	_ engine.Applier        = (*Engine)(nil)
)
