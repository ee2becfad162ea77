package badger

import (
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dgraph-io/badger/v4"
)

// Transaction BadgerDB 乐观事务
//
// 写冲突在 Commit 时以 ErrTransactionConflict 报告。
type Transaction struct {
	e        *Engine
	txn      *badger.Txn
	writable bool

	sets, dels int64
	done       atomic.Bool
	committed  atomic.Bool
}

// NewTransaction 创建新的事务
func (e *Engine) NewTransaction(writable bool) engine.Transaction {
	t := &Transaction{e: e, writable: writable}
	if e.closed.Load() {
		t.done.Store(true)
		return t
	}
	t.txn = e.db.NewTransaction(writable && !e.config.ReadOnly)
	return t
}

func (t *Transaction) check() error {
	if t.e.closed.Load() {
		return engine.ErrClosed
	}
	if t.done.Load() {
		return engine.ErrTransactionDiscarded
	}
	return nil
}

// Get 在事务中读取值，能看到本事务未提交的写入
func (t *Transaction) Get(key []byte) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := engine.CheckKey("txn get", key); err != nil {
		return nil, err
	}
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, convertError(err)
	}
	return item.ValueCopy(nil)
}

func (t *Transaction) checkWrite(key []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.writable || t.e.config.ReadOnly {
		return engine.ErrReadOnly
	}
	return engine.CheckKey("txn write", key)
}

// Set 在事务中设置值
func (t *Transaction) Set(key, value []byte) error {
	if err := t.checkWrite(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if err := t.txn.Set(key, value); err != nil {
		return convertError(err)
	}
	t.sets++
	return nil
}

// Delete 在事务中删除键
func (t *Transaction) Delete(key []byte) error {
	if err := t.checkWrite(key); err != nil {
		return err
	}
	if err := t.txn.Delete(key); err != nil {
		return convertError(err)
	}
	t.dels++
	return nil
}

// Commit 提交事务，重复提交是空操作
func (t *Transaction) Commit() error {
	if t.committed.Load() {
		return nil
	}
	if err := t.check(); err != nil {
		return err
	}
	t.done.Store(true)
	if err := t.txn.Commit(); err != nil {
		return convertError(err)
	}
	t.committed.Store(true)
	t.e.stats.numWrites.Add(t.sets)
	t.e.stats.numDeletes.Add(t.dels)
	return nil
}

// Discard 丢弃未提交的写入，多次调用是安全的
func (t *Transaction) Discard() {
	if t.done.Swap(true) || t.txn == nil {
		return
	}
	t.txn.Discard()
}

var _ engine.Transaction = (*Transaction)(nil)
