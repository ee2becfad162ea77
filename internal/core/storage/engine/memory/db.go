// Package memory 实现基于内存有序树的存储引擎
//
// 数据保存在 google/btree 的有序树中，不落盘，进程退出即丢失。
// 主要用于测试，以及不需要持久化的临时缓存区域。
// 迭代器基于写时复制的树快照，迭代期间的写入对其不可见。
package memory

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/google/btree"
)

// degree 有序树的阶
const degree = 32

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Engine 内存存储引擎
type Engine struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed atomic.Bool

	// 统计信息
	stats struct {
		numReads   atomic.Int64
		numWrites  atomic.Int64
		numDeletes atomic.Int64
		hits       atomic.Int64
		misses     atomic.Int64
	}
}

// New 创建内存存储引擎，cfg 可以为 nil
func New(_ *engine.Config) (*Engine, error) {
	return &Engine{tree: btree.NewG[item](degree, less)}, nil
}

// --- 公共接口实现 (interfaces.Engine) ---

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if err := engine.CheckKey("get", key); err != nil {
		return nil, err
	}

	e.mu.RLock()
	it, ok := e.tree.Get(item{key: key})
	e.mu.RUnlock()

	e.stats.numReads.Add(1)
	if !ok {
		e.stats.misses.Add(1)
		return nil, engine.ErrNotFound
	}
	e.stats.hits.Add(1)
	return bytes.Clone(it.value), nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.Apply([]engine.Op{{Key: key, Value: value}})
}

// Delete 删除指定键
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
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.Has(item{key: key}), nil
}

// Apply 在写锁内原子地应用一组写操作
func (e *Engine) Apply(ops []engine.Op) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	for _, op := range ops {
		if err := engine.CheckKey("write", op.Key); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return engine.ErrClosed
	}

	for _, op := range ops {
		if op.Delete {
			e.tree.Delete(item{key: op.Key})
			e.stats.numDeletes.Add(1)
			continue
		}
		value := op.Value
		if value == nil {
			value = []byte{}
		}
		e.tree.ReplaceOrInsert(item{key: bytes.Clone(op.Key), value: bytes.Clone(value)})
		e.stats.numWrites.Add(1)
	}
	return nil
}

// Close 关闭存储引擎并释放全部数据
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.mu.Lock()
	e.tree.Clear(false)
	e.mu.Unlock()
	return nil
}

// --- 内部扩展接口实现 (engine.InternalEngine) ---

// NewBatch 创建新的批量写入对象
func (e *Engine) NewBatch() engine.Batch {
	return engine.NewBufferedBatch(e)
}

// Write 执行批量写入
func (e *Engine) Write(batch engine.Batch) error {
	bb, ok := batch.(*engine.BufferedBatch)
	if !ok {
		return engine.ErrInvalidConfig
	}
	return bb.Write()
}

// NewIterator 创建新的迭代器
func (e *Engine) NewIterator(opts *engine.IteratorOptions) engine.Iterator {
	if opts == nil {
		opts = engine.DefaultIteratorOptions()
	}
	it := &Iterator{opts: opts}
	if e.closed.Load() {
		it.err = engine.ErrClosed
		return it
	}

	// Clone 会修改原树的写时复制上下文，需要写锁
	e.mu.Lock()
	it.snap = e.tree.Clone()
	e.mu.Unlock()
	return it
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
func (e *Engine) NewTransaction(writable bool) engine.Transaction {
	return engine.NewBufferedTxn(e, writable)
}

// Start 启动存储引擎
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

// Compact 内存引擎无需压缩
func (e *Engine) Compact() error {
	return nil
}

// Sync 内存引擎无需同步
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

// Stats 获取引擎统计信息
func (e *Engine) Stats() *engine.Stats {
	e.mu.RLock()
	n := e.tree.Len()
	e.mu.RUnlock()

	return &engine.Stats{
		KeyCount:    int64(n),
		CacheHits:   e.stats.hits.Load(),
		CacheMisses: e.stats.misses.Load(),
		NumWrites:   e.stats.numWrites.Load(),
		NumReads:    e.stats.numReads.Load(),
		NumDeletes:  e.stats.numDeletes.Load(),
	}
}

// 编译时检查接口实现
var (
	_ engine.InternalEngine = (*Engine)(nil)
	_ engine.Applier        = (*Engine)(nil)
)
