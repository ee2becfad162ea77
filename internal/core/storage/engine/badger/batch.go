package badger

import (
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dgraph-io/badger/v4"
)

// Apply 在一个 Update 事务里应用全部操作
//
// 所有键先统一校验，任一无效则不写入任何内容。超过单事务上限时
// 返回 ErrTransactionTooLarge，同样不写入。
func (e *Engine) Apply(ops []engine.Op) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return engine.ErrReadOnly
	}
	for _, op := range ops {
		if err := engine.CheckKey("write", op.Key); err != nil {
			return err
		}
	}
	if len(ops) == 0 {
		return nil
	}

	var puts, dels int64
	err := e.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			if op.Delete {
				if err := txn.Delete(op.Key); err != nil {
					return err
				}
				dels++
				continue
			}
			value := op.Value
			if value == nil {
				value = []byte{}
			}
			if err := txn.Set(op.Key, value); err != nil {
				return err
			}
			puts++
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}
	e.stats.numWrites.Add(puts)
	e.stats.numDeletes.Add(dels)
	return nil
}

// NewBatch 创建缓冲批量对象，Write 时经 Apply 原子写入
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
