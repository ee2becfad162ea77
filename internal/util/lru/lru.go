// Package lru 提供固定容量的 LRU 缓存
//
// 条目保存在连续的槽位数组中，链表指针是槽位下标而不是指针，
// 删除的槽位进入空闲链表复用。键到槽位的映射由哈希表维护，
// Get / Put / Remove / Contains 平均 O(1)。
//
// Cache 不做内部同步，并发使用时由调用方加锁。
package lru

import (
	"errors"
)

// ErrInvalidSize 容量必须为正
var ErrInvalidSize = errors.New("lru: size must be positive")

// nilSlot 空链接
const nilSlot = -1

type slot[K comparable, V any] struct {
	key        K
	value      V
	prev, next int
}

// Cache 固定容量的 LRU 缓存
type Cache[K comparable, V any] struct {
	size  int
	slots []slot[K, V]
	index map[K]int

	// head 最近使用，tail 最久未使用
	head, tail int
	// free 空闲槽位链表头，经由 next 链接
	free int

	onEvict func(K, V)
}

// New 创建容量为 size 的缓存
func New[K comparable, V any](size int) (*Cache[K, V], error) {
	return NewWithEvict[K, V](size, nil)
}

// NewWithEvict 创建缓存，条目因容量被淘汰时回调 onEvict
//
// 显式 Remove 和 Clear 不触发回调。
func NewWithEvict[K comparable, V any](size int, onEvict func(K, V)) (*Cache[K, V], error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &Cache[K, V]{
		size:    size,
		slots:   make([]slot[K, V], 0, min(size, 1024)),
		index:   make(map[K]int, min(size, 1024)),
		head:    nilSlot,
		tail:    nilSlot,
		free:    nilSlot,
		onEvict: onEvict,
	}, nil
}

// Get 返回键对应的值并把条目提升为最近使用
func (c *Cache[K, V]) Get(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(i)
	return c.slots[i].value, true
}

// Peek 返回键对应的值，不改变使用顺序
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return c.slots[i].value, true
}

// Put 插入或更新条目，超出容量时淘汰最久未使用的条目
//
// 返回是否发生了淘汰。
func (c *Cache[K, V]) Put(key K, value V) bool {
	if i, ok := c.index[key]; ok {
		c.slots[i].value = value
		c.moveToFront(i)
		return false
	}

	evicted := false
	if len(c.index) >= c.size {
		c.evict()
		evicted = true
	}

	i := c.alloc()
	c.slots[i] = slot[K, V]{key: key, value: value, prev: nilSlot, next: nilSlot}
	c.index[key] = i
	c.pushFront(i)
	return evicted
}

// Remove 删除条目，返回键是否存在
func (c *Cache[K, V]) Remove(key K) bool {
	i, ok := c.index[key]
	if !ok {
		return false
	}
	c.unlink(i)
	delete(c.index, key)
	c.release(i)
	return true
}

// Contains 检查键是否存在，不改变使用顺序
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.index[key]
	return ok
}

// Len 返回条目数
func (c *Cache[K, V]) Len() int {
	return len(c.index)
}

// Cap 返回容量
func (c *Cache[K, V]) Cap() int {
	return c.size
}

// Clear 删除全部条目
func (c *Cache[K, V]) Clear() {
	clear(c.index)
	c.slots = c.slots[:0]
	c.head, c.tail, c.free = nilSlot, nilSlot, nilSlot
}

// Keys 按从最近使用到最久未使用的顺序返回全部键
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.index))
	for i := c.head; i != nilSlot; i = c.slots[i].next {
		keys = append(keys, c.slots[i].key)
	}
	return keys
}

// Oldest 返回最久未使用的条目
func (c *Cache[K, V]) Oldest() (K, V, bool) {
	if c.tail == nilSlot {
		var (
			k K
			v V
		)
		return k, v, false
	}
	s := &c.slots[c.tail]
	return s.key, s.value, true
}

func (c *Cache[K, V]) evict() {
	i := c.tail
	s := c.slots[i]
	c.unlink(i)
	delete(c.index, s.key)
	c.release(i)
	if c.onEvict != nil {
		c.onEvict(s.key, s.value)
	}
}

// alloc 取一个空闲槽位，没有时追加
func (c *Cache[K, V]) alloc() int {
	if c.free != nilSlot {
		i := c.free
		c.free = c.slots[i].next
		return i
	}
	c.slots = append(c.slots, slot[K, V]{})
	return len(c.slots) - 1
}

// release 清空槽位并放回空闲链表
func (c *Cache[K, V]) release(i int) {
	c.slots[i] = slot[K, V]{prev: nilSlot, next: c.free}
	c.free = i
}

func (c *Cache[K, V]) pushFront(i int) {
	c.slots[i].prev = nilSlot
	c.slots[i].next = c.head
	if c.head != nilSlot {
		c.slots[c.head].prev = i
	}
	c.head = i
	if c.tail == nilSlot {
		c.tail = i
	}
}

func (c *Cache[K, V]) unlink(i int) {
	s := &c.slots[i]
	if s.prev != nilSlot {
		c.slots[s.prev].next = s.next
	} else {
		c.head = s.next
	}
	if s.next != nilSlot {
		c.slots[s.next].prev = s.prev
	} else {
		c.tail = s.prev
	}
	s.prev, s.next = nilSlot, nilSlot
}

func (c *Cache[K, V]) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}
