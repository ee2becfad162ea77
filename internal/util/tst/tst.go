// Package tst 实现支持单通配符查询的三叉搜索树
//
// 三叉搜索树按字节组织字符串键，支持精确查找、按字典序的前缀枚举，
// 以及含一个 '*' 的通配符查询：
//
//	"Mik*"  前缀匹配
//	"*ike"  后缀匹配
//	"M*ke"  前缀 + 后缀匹配
//
// 查询是纯遍历，结果数量上限 threshold 作为提前终止的预算。
// Tree 不做内部同步，并发使用时由调用方加锁。
package tst

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidTerm 通配符查询词必须恰好包含一个 '*'
	ErrInvalidTerm = errors.New("tst: search term must contain exactly one '*'")

	// ErrDuplicateKey Insert 的键已存在
	ErrDuplicateKey = errors.New("tst: duplicate key")

	// ErrEmptyKey 键不能为空
	ErrEmptyKey = errors.New("tst: empty key")
)

const (
	// Wildcard 通配符
	Wildcard = '*'

	// NoLimit 结果数量不设上限
	NoLimit = -1
)

type node[V any] struct {
	c          byte
	lo, eq, hi *node[V]
	val        V
	has        bool
}

// Tree 三叉搜索树，键为字符串，值类型为 V
type Tree[V any] struct {
	root *node[V]
	size int
}

// New 创建空树
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

// Len 返回键数量
func (t *Tree[V]) Len() int {
	return t.size
}

// Insert 插入新键
//
// 键已存在时返回 ErrDuplicateKey 且不修改原值；需要覆盖时使用 Put。
func (t *Tree[V]) Insert(key string, val V) error {
	if key == "" {
		return ErrEmptyKey
	}
	n := t.materialize(key)
	if n.has {
		return ErrDuplicateKey
	}
	n.val, n.has = val, true
	t.size++
	return nil
}

// Put 插入或覆盖，返回是否覆盖了已有键
func (t *Tree[V]) Put(key string, val V) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n := t.materialize(key)
	replaced := n.has
	n.val, n.has = val, true
	if !replaced {
		t.size++
	}
	return replaced, nil
}

// materialize 返回 key 末字节所在节点，沿途缺失的节点会被创建
func (t *Tree[V]) materialize(key string) *node[V] {
	p := &t.root
	for i := 0; ; {
		if *p == nil {
			*p = &node[V]{c: key[i]}
		}
		n := *p
		switch {
		case key[i] < n.c:
			p = &n.lo
		case key[i] > n.c:
			p = &n.hi
		case i == len(key)-1:
			return n
		default:
			i++
			p = &n.eq
		}
	}
}

// lookup 返回 key 末字节所在节点，不存在时为 nil
func (t *Tree[V]) lookup(key string) *node[V] {
	if key == "" {
		return nil
	}
	n := t.root
	for i := 0; n != nil; {
		switch {
		case key[i] < n.c:
			n = n.lo
		case key[i] > n.c:
			n = n.hi
		case i == len(key)-1:
			return n
		default:
			i++
			n = n.eq
		}
	}
	return nil
}

// Find 精确查找
func (t *Tree[V]) Find(key string) (V, bool) {
	if n := t.lookup(key); n != nil && n.has {
		return n.val, true
	}
	var zero V
	return zero, false
}

// Contains 检查键是否存在
func (t *Tree[V]) Contains(key string) bool {
	n := t.lookup(key)
	return n != nil && n.has
}

// Remove 删除键并回收不再需要的节点，返回键是否存在
func (t *Tree[V]) Remove(key string) bool {
	if key == "" {
		return false
	}
	var removed bool
	t.root = t.remove(t.root, key, 0, &removed)
	if removed {
		t.size--
	}
	return removed
}

func (t *Tree[V]) remove(n *node[V], key string, i int, removed *bool) *node[V] {
	if n == nil {
		return nil
	}
	switch {
	case key[i] < n.c:
		n.lo = t.remove(n.lo, key, i, removed)
	case key[i] > n.c:
		n.hi = t.remove(n.hi, key, i, removed)
	case i == len(key)-1:
		if n.has {
			var zero V
			n.val, n.has = zero, false
			*removed = true
		}
	default:
		n.eq = t.remove(n.eq, key, i+1, removed)
	}
	return prune(n)
}

// prune 节点没有数据也没有中间子树时，用左右子树之一（或二者合并）替换它
func prune[V any](n *node[V]) *node[V] {
	if n.has || n.eq != nil {
		return n
	}
	switch {
	case n.lo == nil:
		return n.hi
	case n.hi == nil:
		return n.lo
	}
	// 把 hi 挂到 lo 子树的最右端
	r := n.lo
	for r.hi != nil {
		r = r.hi
	}
	r.hi = n.hi
	return n.lo
}

// DeleteTree 释放整棵树
func (t *Tree[V]) DeleteTree() {
	t.root = nil
	t.size = 0
}

// collector 有上限的结果收集器
type collector struct {
	limit int // < 0 不限
	out   []string
}

func (c *collector) full() bool {
	return c.limit >= 0 && len(c.out) >= c.limit
}

// walk 按字典序遍历 n 子树，buf 是到达 n 之前的前缀
//
// accept 为 nil 时接收全部键。收集器满时返回 false 终止遍历。
func walk[V any](n *node[V], buf []byte, c *collector, accept func(string) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.lo, buf, c, accept) {
		return false
	}
	buf = append(buf, n.c)
	if n.has {
		if c.full() {
			return false
		}
		if key := string(buf); accept == nil || accept(key) {
			c.out = append(c.out, key)
			if c.full() {
				return false
			}
		}
	}
	if !walk(n.eq, buf, c, accept) {
		return false
	}
	return walk(n.hi, buf[:len(buf)-1], c, accept)
}

// prefixed 按字典序收集以 prefix 开头且满足 accept 的键
func (t *Tree[V]) prefixed(prefix string, c *collector, accept func(string) bool) {
	if c.full() {
		return
	}
	if prefix == "" {
		walk(t.root, nil, c, accept)
		return
	}
	n := t.lookup(prefix)
	if n == nil {
		return
	}
	if n.has && (accept == nil || accept(prefix)) {
		c.out = append(c.out, prefix)
	}
	walk(n.eq, []byte(prefix), c, accept)
}

// MatchPrefix 按字典序返回以 prefix 开头的键，最多 threshold 个
//
// threshold < 0 表示不限。prefix 为空时返回全部键。
func (t *Tree[V]) MatchPrefix(prefix string, threshold int) []string {
	c := &collector{limit: threshold}
	t.prefixed(prefix, c, nil)
	return c.out
}

// Search 通配符查询，term 必须恰好包含一个 '*'
//
// '*' 在开头做后缀匹配，在结尾做前缀匹配，在中间做前缀 + 后缀匹配。
// 结果按字典序，最多 threshold 个（< 0 表示不限）。
func (t *Tree[V]) Search(term string, threshold int) ([]string, error) {
	pos := strings.IndexByte(term, Wildcard)
	if pos < 0 || strings.IndexByte(term[pos+1:], Wildcard) >= 0 {
		return nil, ErrInvalidTerm
	}
	prefix, suffix := term[:pos], term[pos+1:]

	var accept func(string) bool
	if suffix != "" {
		accept = func(key string) bool {
			return len(key) >= len(prefix)+len(suffix) && strings.HasSuffix(key, suffix)
		}
	}

	c := &collector{limit: threshold}
	t.prefixed(prefix, c, accept)
	return c.out, nil
}

// Walk 按字典序遍历全部键值，fn 返回 false 时停止
func (t *Tree[V]) Walk(fn func(key string, val V) bool) {
	var visit func(n *node[V], buf []byte) bool
	visit = func(n *node[V], buf []byte) bool {
		if n == nil {
			return true
		}
		if !visit(n.lo, buf) {
			return false
		}
		buf = append(buf, n.c)
		if n.has && !fn(string(buf), n.val) {
			return false
		}
		if !visit(n.eq, buf) {
			return false
		}
		return visit(n.hi, buf[:len(buf)-1])
	}
	visit(t.root, nil)
}
