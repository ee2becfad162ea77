package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// WriteBatch Pebble 批量写入实现，提交是原子的
type WriteBatch struct {
	db    *Engine
	batch *pebble.Batch
	count atomic.Int32
	err   error // 第一个无效键，Write 时返回
}

// Put 添加一个写入操作到批量中
func (b *WriteBatch) Put(key, value []byte) {
	if b.reject("batch put", key) {
		return
	}
	b.note(b.batch.Set(key, value, nil))
}

// Delete 添加一个删除操作到批量中
func (b *WriteBatch) Delete(key []byte) {
	if b.reject("batch delete", key) {
		return
	}
	b.note(b.batch.Delete(key, nil))
}

func (b *WriteBatch) reject(op string, key []byte) bool {
	if err := engine.CheckKey(op, key); err != nil {
		if b.err == nil {
			b.err = err
		}
		return true
	}
	return false
}

func (b *WriteBatch) note(err error) {
	switch {
	case err == nil:
		b.count.Add(1)
	case b.err == nil:
		b.err = convertError("batch", err)
	}
}

// Write 执行批量写入
func (b *WriteBatch) Write() error {
	e := b.db
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return err
	}
	if b.err != nil {
		err := b.err
		b.Reset()
		return err
	}
	if b.count.Load() == 0 {
		return nil
	}

	if err := b.batch.Commit(e.writeOpts()); err != nil {
		return convertError("write batch", err)
	}
	e.stats.numWrites.Add(int64(b.count.Load()))
	b.Reset()
	return nil
}

// Reset 重置批量对象
func (b *WriteBatch) Reset() {
	b.count.Store(0)
	b.err = nil
	b.batch.Reset()
}

// Size 返回批量中的操作数量
func (b *WriteBatch) Size() int {
	return int(b.count.Load())
}

// Transaction Pebble 事务实现
//
// 可写事务不做冲突检测，后提交者覆盖先提交者。
type Transaction struct {
	db        *Engine
	batch     *pebble.Batch    // 可写事务
	snap      *pebble.Snapshot // 只读事务
	writable  bool
	committed atomic.Bool
	discarded atomic.Bool
}

// Get 在事务中读取值
func (t *Transaction) Get(key []byte) ([]byte, error) {
	if t.discarded.Load() {
		return nil, engine.ErrTransactionDiscarded
	}
	if err := engine.CheckKey("txn get", key); err != nil {
		return nil, err
	}

	e := t.db
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if t.writable {
		return e.get(t.batch, key)
	}
	return e.get(t.snap, key)
}

// Set 在事务中设置值
func (t *Transaction) Set(key, value []byte) error {
	if err := t.checkWrite(key); err != nil {
		return err
	}
	return convertError("txn set", t.batch.Set(key, value, nil))
}

// Delete 在事务中删除键
func (t *Transaction) Delete(key []byte) error {
	if err := t.checkWrite(key); err != nil {
		return err
	}
	return convertError("txn delete", t.batch.Delete(key, nil))
}

func (t *Transaction) checkWrite(key []byte) error {
	if t.discarded.Load() {
		return engine.ErrTransactionDiscarded
	}
	if !t.writable {
		return engine.ErrReadOnly
	}
	return engine.CheckKey("txn write", key)
}

// Commit 提交事务
func (t *Transaction) Commit() error {
	if t.committed.Load() {
		return nil
	}
	if t.discarded.Load() {
		return engine.ErrTransactionDiscarded
	}

	if t.writable {
		e := t.db
		e.mu.RLock()
		if err := e.checkWritable(); err != nil {
			e.mu.RUnlock()
			return err
		}
		n := int64(t.batch.Count())
		err := t.batch.Commit(e.writeOpts())
		e.mu.RUnlock()
		if err != nil {
			return convertError("txn commit", err)
		}
		e.stats.numWrites.Add(n)
	}

	t.committed.Store(true)
	t.Discard()
	return nil
}

// Discard 丢弃事务，多次调用是安全的
func (t *Transaction) Discard() {
	if t.discarded.Swap(true) {
		return
	}
	if t.batch != nil {
		_ = t.batch.Close()
	}
	if t.snap != nil {
		_ = t.snap.Close()
	}
}

// 编译时检查接口实现
var (
	_ engine.Batch       = (*WriteBatch)(nil)
	_ engine.Transaction = (*Transaction)(nil)
)
