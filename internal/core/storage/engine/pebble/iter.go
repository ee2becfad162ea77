package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// Iterator Pebble 迭代器实现
//
// 迭代器持有创建时的隐式快照。
type Iterator struct {
	iter    *pebble.Iterator
	reverse bool
	started bool
	valid   bool
	closed  atomic.Bool
	err     error
}

// First 移动到第一个键值对（反向迭代时为最后一个）
func (it *Iterator) First() bool {
	if it.closed.Load() || it.iter == nil {
		return false
	}
	it.started = true
	if it.reverse {
		it.valid = it.iter.Last()
	} else {
		it.valid = it.iter.First()
	}
	return it.check()
}

// Next 移动到下一个键值对
func (it *Iterator) Next() bool {
	if it.closed.Load() || it.iter == nil {
		return false
	}
	if !it.started {
		return it.First()
	}
	if !it.valid {
		return false
	}
	if it.reverse {
		it.valid = it.iter.Prev()
	} else {
		it.valid = it.iter.Next()
	}
	return it.check()
}

func (it *Iterator) check() bool {
	if !it.valid {
		if err := it.iter.Error(); err != nil && it.err == nil {
			it.err = convertError("iterate", err)
		}
	}
	return it.valid
}

// Valid 检查迭代器是否指向有效位置
func (it *Iterator) Valid() bool {
	return !it.closed.Load() && it.iter != nil && it.valid
}

// Key 返回当前键
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return append([]byte(nil), it.iter.Key()...)
}

// Value 返回当前值
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return append([]byte{}, it.iter.Value()...)
}

// Close 关闭迭代器
func (it *Iterator) Close() {
	if it.closed.Swap(true) || it.iter == nil {
		return
	}
	if err := it.iter.Close(); err != nil && it.err == nil {
		it.err = convertError("iterate", err)
	}
}

// Error 返回迭代过程中的错误
func (it *Iterator) Error() error {
	return it.err
}

// 编译时检查接口实现
var _ engine.Iterator = (*Iterator)(nil)
