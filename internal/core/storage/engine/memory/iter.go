package memory

import (
	"bytes"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/google/btree"
)

// Iterator 内存引擎迭代器，遍历创建时的树快照
type Iterator struct {
	opts    *engine.IteratorOptions
	snap    *btree.BTreeG[item]
	items   []item
	pos     int
	started bool
	closed  atomic.Bool
	err     error
}

// First 移动到第一个键值对
func (it *Iterator) First() bool {
	if it.closed.Load() || it.snap == nil {
		return false
	}
	it.started = true
	it.items, it.pos = it.items[:0], 0

	lower, upper := bounds(it.opts)
	if it.opts.Reverse {
		visit := func(i item) bool {
			if upper != nil && bytes.Compare(i.key, upper) >= 0 {
				return true
			}
			if bytes.Compare(i.key, lower) < 0 {
				return false
			}
			it.items = append(it.items, i)
			return true
		}
		if upper != nil {
			it.snap.DescendLessOrEqual(item{key: upper}, visit)
		} else {
			it.snap.Descend(visit)
		}
		return it.Valid()
	}

	it.snap.AscendGreaterOrEqual(item{key: lower}, func(i item) bool {
		if upper != nil && bytes.Compare(i.key, upper) >= 0 {
			return false
		}
		it.items = append(it.items, i)
		return true
	})
	return it.Valid()
}

// bounds 返回迭代范围 [lower, upper)，upper 为 nil 表示无上界
func bounds(opts *engine.IteratorOptions) ([]byte, []byte) {
	lower := opts.Prefix
	if bytes.Compare(opts.StartKey, lower) > 0 {
		lower = opts.StartKey
	}
	var upper []byte
	if len(opts.Prefix) > 0 {
		upper = prefixEnd(opts.Prefix)
	}
	if len(opts.EndKey) > 0 && (upper == nil || bytes.Compare(opts.EndKey, upper) < 0) {
		upper = opts.EndKey
	}
	return lower, upper
}

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

// Next 移动到下一个键值对
func (it *Iterator) Next() bool {
	if it.closed.Load() {
		return false
	}
	if !it.started {
		return it.First()
	}
	if it.pos < len(it.items) {
		it.pos++
	}
	return it.Valid()
}

// Valid 检查迭代器是否指向有效位置
func (it *Iterator) Valid() bool {
	return !it.closed.Load() && it.pos < len(it.items)
}

// Key 返回当前键
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.items[it.pos].key)
}

// Value 返回当前值
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.items[it.pos].value)
}

// Close 关闭迭代器
func (it *Iterator) Close() {
	if it.closed.Swap(true) {
		return
	}
	it.items = nil
	it.snap = nil
}

// Error 返回迭代过程中的错误
func (it *Iterator) Error() error {
	return it.err
}

// 编译时检查接口实现
var _ engine.Iterator = (*Iterator)(nil)
