// Package pebble 提供基于 Pebble 的存储引擎实现
//
// Pebble 是 CockroachDB 使用的 LSM 键值存储，批量写入原子提交。
// 本包把它适配为 engine.InternalEngine，作为页式 B-tree 之外的另一种持久化后端。
//
// # 使用示例
//
//	cfg := engine.DefaultConfig("/data/advcache").WithBackend(engine.BackendPebble)
//	db, err := pebble.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package pebble

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/pkg/lib/log"
)

// logger 是 pebble 存储引擎的日志记录器
var logger = log.Logger("storage/pebble")

// dataDir Pebble 数据位于 Path 下的子目录
const dataDir = "pebble"

// Engine Pebble 存储引擎
type Engine struct {
	db     *pebble.DB
	config *engine.Config
	mu     sync.RWMutex
	closed atomic.Bool

	// 统计信息
	stats struct {
		numReads    atomic.Int64
		numWrites   atomic.Int64
		numDeletes  atomic.Int64
		cacheHits   atomic.Int64
		cacheMisses atomic.Int64
	}
}

// New 创建新的 Pebble 存储引擎
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	cfg = cfg.Clone()
	cfg.Backend = engine.BackendPebble

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	cache := pebble.NewCache(cfg.Pebble.CacheSize)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: cfg.Pebble.MemTableSize,
		ReadOnly:     cfg.ReadOnly,
	}
	path := filepath.Join(cfg.Path, dataDir)
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, convertError("open", err)
	}
	logger.Debug("打开 pebble", "path", path)

	return &Engine{db: db, config: cfg}, nil
}

func (e *Engine) writeOpts() *pebble.WriteOptions {
	if e.config.SyncWrites {
		return pebble.Sync
	}
	return pebble.NoSync
}

// --- 公共接口实现 (interfaces.Engine) ---

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := engine.CheckKey("get", key); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}

	e.stats.numReads.Add(1)
	return e.get(e.db, key)
}

// reader Pebble 中可以点查的对象（DB、快照、索引批）
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func (e *Engine) get(r reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			e.stats.cacheMisses.Add(1)
			return nil, engine.ErrNotFound
		}
		return nil, convertError("get", err)
	}
	defer closer.Close()
	e.stats.cacheHits.Add(1)

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	if err := engine.CheckKey("put", key); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return err
	}

	if err := e.db.Set(key, value, e.writeOpts()); err != nil {
		return convertError("put", err)
	}
	e.stats.numWrites.Add(1)
	return nil
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	if err := engine.CheckKey("delete", key); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return err
	}

	if err := e.db.Delete(key, e.writeOpts()); err != nil {
		return convertError("delete", err)
	}
	e.stats.numDeletes.Add(1)
	return nil
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	if err == nil {
		return true, nil
	}
	if engine.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (e *Engine) checkWritable() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return engine.ErrReadOnly
	}
	return nil
}

// Close 关闭存储引擎
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	// 等待进行中的操作结束
	e.mu.Lock()
	defer e.mu.Unlock()
	return convertError("close", e.db.Close())
}

// --- 内部扩展接口实现 (engine.InternalEngine) ---

// NewBatch 创建新的批量写入对象
func (e *Engine) NewBatch() engine.Batch {
	return &WriteBatch{db: e, batch: e.db.NewBatch()}
}

// Write 执行批量写入
func (e *Engine) Write(batch engine.Batch) error {
	wb, ok := batch.(*WriteBatch)
	if !ok {
		return engine.ErrInvalidConfig
	}
	return wb.Write()
}

// NewIterator 创建新的迭代器
func (e *Engine) NewIterator(opts *engine.IteratorOptions) engine.Iterator {
	if opts == nil {
		opts = engine.DefaultIteratorOptions()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return &Iterator{err: engine.ErrClosed}
	}

	lower, upper := bounds(opts)
	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return &Iterator{err: convertError("iterate", err)}
	}
	return &Iterator{iter: iter, reverse: opts.Reverse}
}

// NewPrefixIterator 创建前缀迭代器
func (e *Engine) NewPrefixIterator(prefix []byte) engine.Iterator {
	return e.NewIterator(&engine.IteratorOptions{
		Prefix:         prefix,
		PrefetchSize:   100,
		PrefetchValues: true,
	})
}

// NewTransaction 创建新的事务
//
// 可写事务基于索引批（读己之写，提交时原子应用），只读事务基于快照。
func (e *Engine) NewTransaction(writable bool) engine.Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		t := &Transaction{db: e}
		t.discarded.Store(true)
		return t
	}
	if writable && !e.config.ReadOnly {
		return &Transaction{db: e, batch: e.db.NewIndexedBatch(), writable: true}
	}
	return &Transaction{db: e, snap: e.db.NewSnapshot()}
}

// Start 启动存储引擎
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

// Compact 压缩全部键范围
func (e *Engine) Compact() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return engine.ErrClosed
	}

	iter, err := e.db.NewIter(nil)
	if err != nil {
		return convertError("compact", err)
	}
	var first, last []byte
	if iter.First() {
		first = append(first, iter.Key()...)
	}
	if iter.Last() {
		last = append(last, iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return convertError("compact", err)
	}
	if first == nil {
		return nil
	}
	return convertError("compact", e.db.Compact(first, append(last, 0), true))
}

// Sync 把内存表刷到磁盘
func (e *Engine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return nil
	}
	return convertError("sync", e.db.Flush())
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

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return stats
	}
	m := e.db.Metrics()
	stats.DiskSize = int64(m.DiskSpaceUsage())
	stats.LSMSize = m.Total().Size
	stats.KeyCount = e.estimateKeyCount()
	return stats
}

// estimateKeyCount 估算键数量，超过 10000 时截断
func (e *Engine) estimateKeyCount() int64 {
	iter, err := e.db.NewIter(nil)
	if err != nil {
		logger.Debug("估算键数量失败", "error", err)
		return 0
	}
	defer iter.Close()

	var count int64
	for ok := iter.First(); ok && count < 10000; ok = iter.Next() {
		count++
	}
	return count
}

// DB 返回底层 Pebble 实例（仅供内部使用）
func (e *Engine) DB() *pebble.DB {
	return e.db
}

// bounds 把迭代选项转换为 Pebble 的 [LowerBound, UpperBound)
func bounds(opts *engine.IteratorOptions) ([]byte, []byte) {
	lower := opts.Prefix
	if len(opts.StartKey) > 0 && (lower == nil || string(opts.StartKey) > string(lower)) {
		lower = opts.StartKey
	}
	var upper []byte
	if len(opts.Prefix) > 0 {
		upper = prefixEnd(opts.Prefix)
	}
	if len(opts.EndKey) > 0 && (upper == nil || string(opts.EndKey) < string(upper)) {
		upper = opts.EndKey
	}
	return lower, upper
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// convertError 转换 Pebble 错误到引擎错误
func convertError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return engine.ErrNotFound
	case errors.Is(err, pebble.ErrClosed):
		return engine.ErrClosed
	case errors.Is(err, pebble.ErrReadOnly):
		return engine.NewFault(engine.DBReadOnly, op, err)
	}
	return engine.IOFault(op, err)
}

// 编译时检查接口实现
var _ engine.InternalEngine = (*Engine)(nil)
