package btree

import (
	"bytes"
	"slices"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// iterBatch 每次持读锁读取的条目数
const iterBatch = 128

// Iterator B-tree 迭代器实现
//
// 迭代器不持有快照：每批条目在引擎读锁内读取，批与批之间从上一批最后一个键之后继续，
// 因此能看到迭代期间提交的写入，但单个键值永远是完整的。
// 反向迭代一次性读出整个范围。
type Iterator struct {
	e       *Engine
	lower   []byte // 含
	upper   []byte // 不含，nil 表示无上界
	reverse bool
	values  bool
	batch   int

	buf       []entry
	pos       int
	last      []byte
	exhausted bool
	started   bool
	closed    atomic.Bool
	err       error
}

func newIterator(e *Engine, opts *engine.IteratorOptions) *Iterator {
	if opts == nil {
		opts = engine.DefaultIteratorOptions()
	}
	it := &Iterator{
		e:       e,
		reverse: opts.Reverse,
		values:  opts.PrefetchValues,
		batch:   iterBatch,
	}
	if opts.PrefetchSize > iterBatch {
		it.batch = opts.PrefetchSize
	}

	it.lower = opts.Prefix
	if len(opts.StartKey) > 0 && bytes.Compare(opts.StartKey, it.lower) > 0 {
		it.lower = opts.StartKey
	}
	if len(opts.Prefix) > 0 {
		it.upper = prefixEnd(opts.Prefix)
	}
	if len(opts.EndKey) > 0 && (it.upper == nil || bytes.Compare(opts.EndKey, it.upper) < 0) {
		it.upper = opts.EndKey
	}
	return it
}

// prefixEnd 返回大于所有以 prefix 开头的键的最小键，prefix 全为 0xff 时返回 nil
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// First 移动到第一个键值对
func (it *Iterator) First() bool {
	if it.closed.Load() {
		return false
	}
	it.started = true
	it.buf, it.pos, it.last, it.exhausted, it.err = nil, 0, nil, false, nil

	if it.reverse {
		it.fill(it.lower, true, 0)
		slices.Reverse(it.buf)
		it.exhausted = true
		return it.Valid()
	}
	it.fill(it.lower, true, it.batch)
	return it.Valid()
}

// Next 移动到下一个键值对
func (it *Iterator) Next() bool {
	if it.closed.Load() {
		return false
	}
	if !it.started {
		return it.First()
	}
	if it.pos < len(it.buf) {
		it.pos++
	}
	if it.pos >= len(it.buf) && !it.exhausted && it.err == nil {
		it.fill(it.last, false, it.batch)
	}
	return it.Valid()
}

func (it *Iterator) fill(from []byte, inclusive bool, limit int) {
	e := it.e
	e.mu.RLock()
	defer e.mu.RUnlock()

	it.buf, it.pos = nil, 0
	if e.closed.Load() {
		it.err = engine.ErrClosed
		it.exhausted = true
		return
	}
	entries, done, err := e.tree.scan(from, inclusive, it.upper, limit, it.values)
	if err != nil {
		it.err = err
		it.exhausted = true
		return
	}
	it.buf = entries
	it.exhausted = done
	if len(entries) > 0 {
		it.last = entries[len(entries)-1].key
	}
}

// Valid 检查迭代器是否指向有效位置
func (it *Iterator) Valid() bool {
	return !it.closed.Load() && it.pos < len(it.buf)
}

// Key 返回当前键
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.buf[it.pos].key)
}

// Value 返回当前值
//
// 创建时 PrefetchValues 为 false 的迭代器按需读取。
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	cur := &it.buf[it.pos]
	if cur.value == nil && !it.values {
		v, err := it.e.Get(cur.key)
		if err != nil {
			if !engine.IsNotFound(err) {
				it.err = err
			}
			return nil
		}
		cur.value = v
	}
	return bytes.Clone(cur.value)
}

// Close 关闭迭代器
func (it *Iterator) Close() {
	if it.closed.Swap(true) {
		return
	}
	it.buf = nil
}

// Error 返回迭代过程中的错误
func (it *Iterator) Error() error {
	return it.err
}

// 编译时检查接口实现
var _ engine.Iterator = (*Iterator)(nil)
