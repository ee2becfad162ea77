package btree

import (
	"bytes"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// tree 基于 pager 的 B+ 树操作
//
// 节点按编码字节数而不是条目数决定分裂与合并：
// 超过页体容量时分裂，低于容量 1/4 时与兄弟合并或重新分配。
// 单个条目不超过容量的 1/4，保证分裂后的两半都能放进一页；
// 长于 inline 的键溢出到独立的页链，页内只留 10 字节引用。
type tree struct {
	p *pager

	capacity int // 页体容量
	maxEntry int // 单条目上限
	inline   int // 页内存放的最长键
	minFill  int // 非根节点最小填充
}

func newTree(p *pager) *tree {
	capacity := p.pageSize - pageHeaderSize
	return &tree{
		p:        p,
		capacity: capacity,
		maxEntry: capacity / 4,
		inline:   inlineKeyLimit(p.pageSize),
		minFill:  capacity / 4,
	}
}

// inlineKeyLimit 返回给定页大小下仍存放在页内的最长键
//
// 键编码 2 字节加溢出值引用 9 字节，合计不超过单条目上限。
func inlineKeyLimit(pageSize int) int {
	return (pageSize-pageHeaderSize)/4 - 11
}

func (t *tree) size(n *node) int {
	return n.size(t.inline)
}

// get 点查
func (t *tree) get(key []byte) ([]byte, error) {
	n, err := t.p.node(t.p.hdr.root)
	if err != nil {
		return nil, err
	}
	for !n.leaf {
		if n, err = t.p.node(n.children[n.childIndex(key)]); err != nil {
			return nil, err
		}
	}
	idx, found := n.search(key)
	if !found {
		return nil, engine.ErrNotFound
	}
	return t.p.value(n.vals[idx])
}

// put 插入或覆盖，返回是否新增了记录
func (t *tree) put(key, val []byte) (bool, error) {
	if err := engine.CheckKey("put", key); err != nil {
		return false, err
	}
	if uint64(len(val)) > uint64(^uint32(0)) {
		return false, engine.Faultf(engine.ObjTooLarge, "put", "value of %d bytes", len(val))
	}

	v := leafVal{length: uint32(len(val))}
	if keySize(key, t.inline)+5+len(val) <= t.maxEntry {
		v.inline = bytes.Clone(val)
		if v.inline == nil {
			v.inline = []byte{}
		}
	} else {
		first, err := t.p.writeOverflow(val)
		if err != nil {
			return false, err
		}
		v.overflow = first
	}

	inserted := false
	err := t.mutate(key, leafOp{
		skip: func(bool) bool { return false },
		apply: func(n *node, idx int, found bool) error {
			if !found {
				n.insertEntry(idx, bytes.Clone(key), v)
				inserted = true
				return nil
			}
			if old := n.vals[idx]; old.isOverflow() {
				if err := t.p.freeOverflow(old.overflow); err != nil {
					return err
				}
			}
			n.vals[idx] = v
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	if inserted {
		t.p.hdr.records++
	}
	return inserted, nil
}

// delete 删除，返回键是否存在
func (t *tree) delete(key []byte) (bool, error) {
	if err := engine.CheckKey("delete", key); err != nil {
		return false, err
	}
	deleted := false
	err := t.mutate(key, leafOp{
		skip: func(found bool) bool { return !found },
		apply: func(n *node, idx int, _ bool) error {
			if v := n.vals[idx]; v.isOverflow() {
				if err := t.p.freeOverflow(v.overflow); err != nil {
					return err
				}
			}
			n.removeEntry(idx)
			deleted = true
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	if deleted {
		t.p.hdr.records--
	}
	return deleted, nil
}

// leafOp 叶子上的一次修改
type leafOp struct {
	skip  func(found bool) bool
	apply func(n *node, idx int, found bool) error
}

// result 子树修改后需要父节点处理的结果
type result struct {
	changed   bool
	split     bool
	sep       []byte
	right     uint32
	underflow bool
}

// mutate 从根开始修改，处理根分裂与根收缩
func (t *tree) mutate(key []byte, op leafOp) error {
	res, err := t.modify(t.p.hdr.root, key, op)
	if err != nil {
		return err
	}
	if res.split {
		root, err := t.p.newNode(false)
		if err != nil {
			return err
		}
		root.keys = [][]byte{res.sep}
		root.children = []uint32{t.p.hdr.root, res.right}
		t.p.hdr.root = root.id
		t.p.hdr.height++
		return nil
	}
	for {
		root, err := t.p.node(t.p.hdr.root)
		if err != nil {
			return err
		}
		if root.leaf || len(root.keys) > 0 {
			return nil
		}
		t.p.hdr.root = root.children[0]
		if err := t.p.freeNode(root); err != nil {
			return err
		}
		t.p.hdr.height--
	}
}

func (t *tree) modify(id uint32, key []byte, op leafOp) (result, error) {
	n, err := t.p.node(id)
	if err != nil {
		return result{}, err
	}

	if n.leaf {
		idx, found := n.search(key)
		if op.skip(found) {
			return result{}, nil
		}
		m := t.p.mutable(n)
		if err := op.apply(m, idx, found); err != nil {
			return result{}, err
		}
		return t.settle(m)
	}

	ci := n.childIndex(key)
	cr, err := t.modify(n.children[ci], key, op)
	if err != nil || !cr.changed {
		return cr, err
	}
	if !cr.split && !cr.underflow {
		return result{changed: true}, nil
	}

	m := t.p.mutable(n)
	if cr.split {
		m.insertChild(ci, cr.sep, cr.right)
	} else if err := t.rebalance(m, ci); err != nil {
		return result{}, err
	}
	return t.settle(m)
}

// settle 检查节点是否需要分裂或合并
func (t *tree) settle(n *node) (result, error) {
	res := result{changed: true}
	size := t.size(n)
	switch {
	case size > t.capacity:
		sep, right, err := t.split(n)
		if err != nil {
			return result{}, err
		}
		res.split, res.sep, res.right = true, sep, right
	case size < t.minFill:
		res.underflow = true
	}
	return res, nil
}

// splitPoint 按累计字节数返回左半部分的条目数，结果在 [1, count-1]
func splitPoint(count int, entrySize func(i int) int, total int) int {
	acc := 0
	for i := 0; i < count; i++ {
		acc += entrySize(i)
		if acc > total/2 {
			return max(1, min(i, count-1))
		}
	}
	return count - 1
}

func (t *tree) leafEntries(n *node) func(i int) int {
	return func(i int) int { return n.leafEntrySize(i, t.inline) }
}

func (t *tree) internalEntries(keys [][]byte) func(i int) int {
	return func(i int) int { return internalEntrySize(keys[i], t.inline) }
}

// split 把 n 分裂为两个节点，返回上推的分隔键与右节点页号
func (t *tree) split(n *node) ([]byte, uint32, error) {
	right, err := t.p.newNode(n.leaf)
	if err != nil {
		return nil, 0, err
	}

	if n.leaf {
		k := splitPoint(len(n.keys), t.leafEntries(n), t.size(n))
		right.keys = append([][]byte(nil), n.keys[k:]...)
		right.vals = append([]leafVal(nil), n.vals[k:]...)
		n.keys = n.keys[:k]
		n.vals = n.vals[:k]
		right.next = n.next
		n.next = right.id
		return right.keys[0], right.id, nil
	}

	k := splitPoint(len(n.keys), t.internalEntries(n.keys), t.size(n))
	sep := n.keys[k]
	right.keys = append([][]byte(nil), n.keys[k+1:]...)
	right.children = append([]uint32(nil), n.children[k+1:]...)
	n.keys = n.keys[:k]
	n.children = n.children[:k+1]
	return sep, right.id, nil
}

// rebalance 处理 parent.children[ci] 的下溢：能放进一页就合并，否则与兄弟重新分配
func (t *tree) rebalance(parent *node, ci int) error {
	if len(parent.children) < 2 {
		return nil
	}
	si := ci - 1 // 分隔键下标，左右子节点为 children[si] 与 children[si+1]
	if ci == 0 {
		si = 0
	}

	ln, err := t.p.node(parent.children[si])
	if err != nil {
		return err
	}
	rn, err := t.p.node(parent.children[si+1])
	if err != nil {
		return err
	}
	left := t.p.mutable(ln)
	right := t.p.mutable(rn)

	if left.leaf {
		if t.size(left)+t.size(right) <= t.capacity {
			left.keys = append(left.keys, right.keys...)
			left.vals = append(left.vals, right.vals...)
			left.next = right.next
			if err := t.p.freeNode(right); err != nil {
				return err
			}
			parent.removeChild(si)
			return nil
		}

		keys := append(append([][]byte(nil), left.keys...), right.keys...)
		vals := append(append([]leafVal(nil), left.vals...), right.vals...)
		all := &node{leaf: true, keys: keys, vals: vals}
		k := splitPoint(len(keys), t.leafEntries(all), t.size(all))
		left.keys, left.vals = keys[:k:k], vals[:k:k]
		right.keys, right.vals = keys[k:], vals[k:]
		parent.keys[si] = right.keys[0]
		return nil
	}

	sep := parent.keys[si]
	if t.size(left)+internalEntrySize(sep, t.inline)+t.size(right)-4 <= t.capacity {
		left.keys = append(append(left.keys, sep), right.keys...)
		left.children = append(left.children, right.children...)
		if err := t.p.freeNode(right); err != nil {
			return err
		}
		parent.removeChild(si)
		return nil
	}

	keys := make([][]byte, 0, len(left.keys)+1+len(right.keys))
	keys = append(append(append(keys, left.keys...), sep), right.keys...)
	children := append(append([]uint32(nil), left.children...), right.children...)
	total := 4
	for _, k := range keys {
		total += internalEntrySize(k, t.inline)
	}
	k := splitPoint(len(keys), t.internalEntries(keys), total)
	left.keys = append([][]byte(nil), keys[:k]...)
	left.children = append([]uint32(nil), children[:k+1]...)
	right.keys = append([][]byte(nil), keys[k+1:]...)
	right.children = append([]uint32(nil), children[k+1:]...)
	parent.keys[si] = keys[k]
	return nil
}

// ============= 范围读取 =============

// entry 范围读取得到的键值对
type entry struct {
	key   []byte
	value []byte
}

// scan 从 from 开始按升序读取至多 limit 个条目（limit <= 0 不限制）
//
// inclusive 为 false 时跳过与 from 相等的键；upper 非空时只返回小于 upper 的键。
// 第二个返回值表示是否已到达范围末尾。
func (t *tree) scan(from []byte, inclusive bool, upper []byte, limit int, values bool) ([]entry, bool, error) {
	n, err := t.p.node(t.p.hdr.root)
	if err != nil {
		return nil, false, err
	}
	for !n.leaf {
		if n, err = t.p.node(n.children[n.childIndex(from)]); err != nil {
			return nil, false, err
		}
	}
	idx, found := n.search(from)
	if found && !inclusive {
		idx++
	}

	var out []entry
	for steps := uint32(0); ; steps++ {
		for ; idx < len(n.keys); idx++ {
			if upper != nil && bytes.Compare(n.keys[idx], upper) >= 0 {
				return out, true, nil
			}
			if limit > 0 && len(out) >= limit {
				return out, false, nil
			}
			e := entry{key: bytes.Clone(n.keys[idx])}
			if values {
				if e.value, err = t.p.value(n.vals[idx]); err != nil {
					return nil, false, err
				}
			}
			out = append(out, e)
		}
		if n.next == 0 {
			return out, true, nil
		}
		if steps > t.p.hdr.pageCount {
			return nil, false, engine.Faultf(engine.DBCorrupted, "scan", "cycle in leaf chain")
		}
		if n, err = t.p.node(n.next); err != nil {
			return nil, false, err
		}
		idx = 0
	}
}

// check 校验树的结构不变量，返回叶子中的记录数
//
// 用于测试与 Verify：键有序、分隔键范围正确、所有叶子同深度、页大小不超限。
func (t *tree) check() (uint64, error) {
	var count uint64
	leafDepth := -1
	var walk func(id uint32, lo, hi []byte, depth int) error
	walk = func(id uint32, lo, hi []byte, depth int) error {
		n, err := t.p.node(id)
		if err != nil {
			return err
		}
		if t.size(n) > t.capacity {
			return engine.Faultf(engine.IdxCorrupted, "check", "page %d overfull", id)
		}
		for i, k := range n.keys {
			if i > 0 && bytes.Compare(n.keys[i-1], k) >= 0 {
				return engine.Faultf(engine.IdxCorrupted, "check", "page %d keys out of order", id)
			}
			if lo != nil && bytes.Compare(k, lo) < 0 || hi != nil && bytes.Compare(k, hi) >= 0 {
				return engine.Faultf(engine.IdxCorrupted, "check", "page %d key outside separator range", id)
			}
		}
		if n.leaf {
			if leafDepth == -1 {
				leafDepth = depth
			} else if leafDepth != depth {
				return engine.Faultf(engine.IdxCorrupted, "check", "leaf %d at depth %d, want %d", id, depth, leafDepth)
			}
			count += uint64(len(n.keys))
			return nil
		}
		if len(n.children) != len(n.keys)+1 {
			return engine.Faultf(engine.IdxCorrupted, "check", "page %d child count mismatch", id)
		}
		for i, c := range n.children {
			clo, chi := lo, hi
			if i > 0 {
				clo = n.keys[i-1]
			}
			if i < len(n.keys) {
				chi = n.keys[i]
			}
			if err := walk(c, clo, chi, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.p.hdr.root, nil, nil, 1); err != nil {
		return 0, err
	}
	if leafDepth != int(t.p.hdr.height) {
		return 0, engine.Faultf(engine.IdxCorrupted, "check", "height %d, leaves at depth %d", t.p.hdr.height, leafDepth)
	}
	return count, nil
}
