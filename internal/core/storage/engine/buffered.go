package engine

import (
	"sync/atomic"
)

// Op 一次缓冲的写操作
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Applier 可以原子地应用一组写操作的引擎
//
// 没有原生事务的引擎（B-tree、内存引擎）实现此接口，
// 由 BufferedBatch / BufferedTxn 提供 Batch 与 Transaction 语义。
// Apply 必须在引擎写锁内一次性完成全部操作，读者只能看到应用前或应用后的状态。
type Applier interface {
	Get(key []byte) ([]byte, error)
	Apply(ops []Op) error
}

// ============= 批量写入 =============

// BufferedBatch 在内存中累积写操作，Write 时一次性原子应用
type BufferedBatch struct {
	target Applier
	ops    []Op
	err    error // 第一个无效键
}

// NewBufferedBatch 创建缓冲批量对象
func NewBufferedBatch(target Applier) *BufferedBatch {
	return &BufferedBatch{target: target}
}

// Put 添加一个写入操作到批量中
func (b *BufferedBatch) Put(key, value []byte) {
	b.add("batch put", Op{Key: cloneBytes(key), Value: cloneBytes(value)})
}

// Delete 添加一个删除操作到批量中
func (b *BufferedBatch) Delete(key []byte) {
	b.add("batch delete", Op{Key: cloneBytes(key), Delete: true})
}

func (b *BufferedBatch) add(op string, o Op) {
	if err := CheckKey(op, o.Key); err != nil {
		if b.err == nil {
			b.err = err
		}
		return
	}
	b.ops = append(b.ops, o)
}

// Write 执行批量写入，存在无效键时整批丢弃
func (b *BufferedBatch) Write() error {
	if b.err != nil {
		err := b.err
		b.Reset()
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}
	if err := b.target.Apply(b.ops); err != nil {
		return err
	}
	b.Reset()
	return nil
}

// Reset 重置批量对象
func (b *BufferedBatch) Reset() {
	b.ops = nil
	b.err = nil
}

// Size 返回批量中的操作数量
func (b *BufferedBatch) Size() int {
	return len(b.ops)
}

// ============= 事务 =============

// BufferedTxn 读己之写的缓冲事务
//
// 未提交的写入只对本事务可见；Commit 时按写入顺序一次性原子应用。
// 不做冲突检测，后提交者覆盖先提交者。
type BufferedTxn struct {
	target    Applier
	writable  bool
	pending   map[string]int // key -> ops 下标
	ops       []Op
	done      atomic.Bool
	committed atomic.Bool
}

// NewBufferedTxn 创建缓冲事务
func NewBufferedTxn(target Applier, writable bool) *BufferedTxn {
	return &BufferedTxn{
		target:   target,
		writable: writable,
		pending:  make(map[string]int),
	}
}

// Get 在事务中读取值
func (t *BufferedTxn) Get(key []byte) ([]byte, error) {
	if t.done.Load() {
		return nil, ErrTransactionDiscarded
	}
	if err := CheckKey("txn get", key); err != nil {
		return nil, err
	}
	if idx, ok := t.pending[string(key)]; ok {
		op := t.ops[idx]
		if op.Delete {
			return nil, ErrNotFound
		}
		return cloneBytes(op.Value), nil
	}
	return t.target.Get(key)
}

// Set 在事务中设置值
func (t *BufferedTxn) Set(key, value []byte) error {
	return t.record(Op{Key: cloneBytes(key), Value: cloneBytes(value)})
}

// Delete 在事务中删除键
func (t *BufferedTxn) Delete(key []byte) error {
	return t.record(Op{Key: cloneBytes(key), Delete: true})
}

func (t *BufferedTxn) record(op Op) error {
	if t.done.Load() {
		return ErrTransactionDiscarded
	}
	if !t.writable {
		return ErrReadOnly
	}
	if err := CheckKey("txn write", op.Key); err != nil {
		return err
	}
	if idx, ok := t.pending[string(op.Key)]; ok {
		t.ops[idx] = op
		return nil
	}
	t.pending[string(op.Key)] = len(t.ops)
	t.ops = append(t.ops, op)
	return nil
}

// Commit 提交事务
func (t *BufferedTxn) Commit() error {
	if t.committed.Load() {
		return nil
	}
	if t.done.Load() {
		return ErrTransactionDiscarded
	}
	if len(t.ops) > 0 {
		if err := t.target.Apply(t.ops); err != nil {
			return err
		}
	}
	t.committed.Store(true)
	t.done.Store(true)
	return nil
}

// Discard 丢弃事务，多次调用是安全的
func (t *BufferedTxn) Discard() {
	if t.done.Swap(true) {
		return
	}
	t.ops = nil
	t.pending = nil
}

// cloneBytes 复制字节切片（nil 保持为空切片以区分"空值"与"不存在"）
func cloneBytes(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

// 编译时检查接口实现
var (
	_ Batch       = (*BufferedBatch)(nil)
	_ Transaction = (*BufferedTxn)(nil)
)
