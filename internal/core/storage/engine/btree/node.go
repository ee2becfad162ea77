package btree

import (
	"bytes"
	"encoding/binary"
	"slices"
	"sort"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// 叶子条目：键 | flag u8 | 内联: valLen u32 | val
//                     | 溢出: totalLen u32 | firstPage u32
// 内部节点：child0 u32 | (键 | child u32)*
//
// 键：keyLen u16 | key
//   | spilledKey u16 | totalLen u32 | firstPage u32（长键存放在溢出链中）

const (
	valInline   byte = 0
	valOverflow byte = 1

	spilledKey = 0xFFFF
)

// keySize 返回键在页中的编码字节数，超过 inline 的键只占一个溢出引用
func keySize(k []byte, inline int) int {
	if len(k) > inline {
		return 2 + 8
	}
	return 2 + len(k)
}

// leafVal 叶子中的值引用
type leafVal struct {
	inline   []byte // 内联值
	overflow uint32 // 溢出链首页，0 表示内联
	length   uint32 // 值总长度
}

func (v leafVal) isOverflow() bool {
	return v.overflow != 0
}

func (v leafVal) encodedSize() int {
	if v.isOverflow() {
		return 1 + 4 + 4
	}
	return 1 + 4 + len(v.inline)
}

// node 解码后的树节点
//
// keys 总是完整的键，长键在解码时已从溢出链读回。
// 缓存中的节点被多个读者共享，不得原地修改；写路径先通过 pager.mutable 复制。
type node struct {
	id       uint32
	leaf     bool
	keys     [][]byte
	vals     []leafVal // 仅叶子
	children []uint32  // 仅内部节点，len(keys)+1
	next     uint32    // 叶子右兄弟

	// spilled 该页在磁盘上引用的长键溢出链首页，按键顺序
	spilled []uint32
}

func newLeaf(id uint32) *node {
	return &node{id: id, leaf: true}
}

// clone 复制节点的切片结构（键字节本身不可变，共享即可）
func (n *node) clone() *node {
	c := &node{id: n.id, leaf: n.leaf, next: n.next, spilled: slices.Clone(n.spilled)}
	c.keys = append(make([][]byte, 0, len(n.keys)+1), n.keys...)
	if n.leaf {
		c.vals = append(make([]leafVal, 0, len(n.vals)+1), n.vals...)
	} else {
		c.children = append(make([]uint32, 0, len(n.children)+1), n.children...)
	}
	return c
}

// size 返回节点编码后的页体字节数
func (n *node) size(inline int) int {
	if n.leaf {
		s := 0
		for i := range n.keys {
			s += n.leafEntrySize(i, inline)
		}
		return s
	}
	s := 4
	for _, k := range n.keys {
		s += internalEntrySize(k, inline)
	}
	return s
}

func (n *node) leafEntrySize(i, inline int) int {
	return keySize(n.keys[i], inline) + n.vals[i].encodedSize()
}

func internalEntrySize(key []byte, inline int) int {
	return keySize(key, inline) + 4
}

// search 返回 key 在叶子中的位置以及是否命中
func (n *node) search(key []byte) (int, bool) {
	i := sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) >= 0
	})
	return i, i < len(n.keys) && bytes.Equal(n.keys[i], key)
}

// childIndex 返回内部节点中负责 key 的子节点下标
//
// keys[i] 是 children[i+1] 子树的最小键。
func (n *node) childIndex(key []byte) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) > 0
	})
}

func (n *node) insertEntry(i int, key []byte, v leafVal) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.vals = append(n.vals, leafVal{})
	copy(n.vals[i+1:], n.vals[i:])
	n.vals[i] = v
}

func (n *node) removeEntry(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
}

// insertChild 在 children[i] 右侧插入分隔键与新子节点
func (n *node) insertChild(i int, sep []byte, child uint32) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = sep
	n.children = append(n.children, 0)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = child
}

// removeChild 删除 keys[i] 与 children[i+1]
func (n *node) removeChild(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

// encode 把节点写入整页缓冲区
//
// 长于 inline 的键按顺序使用 spilled 中的溢出链，调用前 pager.spill 已写好这些链。
func (n *node) encode(buf []byte, inline int) {
	clear(buf)
	body := buf[pageHeaderSize:]
	off := 0
	spill := 0
	putKey := func(k []byte) {
		if len(k) > inline {
			binary.BigEndian.PutUint16(body[off:], spilledKey)
			binary.BigEndian.PutUint32(body[off+2:], uint32(len(k)))
			binary.BigEndian.PutUint32(body[off+6:], n.spilled[spill])
			spill++
			off += 10
			return
		}
		binary.BigEndian.PutUint16(body[off:], uint16(len(k)))
		off += 2
		off += copy(body[off:], k)
	}

	if n.leaf {
		for i, k := range n.keys {
			putKey(k)
			v := n.vals[i]
			if v.isOverflow() {
				body[off] = valOverflow
				binary.BigEndian.PutUint32(body[off+1:], v.length)
				binary.BigEndian.PutUint32(body[off+5:], v.overflow)
				off += 9
			} else {
				body[off] = valInline
				binary.BigEndian.PutUint32(body[off+1:], uint32(len(v.inline)))
				off += 5
				off += copy(body[off:], v.inline)
			}
		}
		setPageHeader(buf, pageLeaf, len(n.keys), n.next, off)
		return
	}

	binary.BigEndian.PutUint32(body[off:], n.children[0])
	off += 4
	for i, k := range n.keys {
		putKey(k)
		binary.BigEndian.PutUint32(body[off:], n.children[i+1])
		off += 4
	}
	setPageHeader(buf, pageInternal, len(n.keys), 0, off)
}

// chainLoader 按首页与总长读回溢出链
type chainLoader func(first, length uint32) ([]byte, error)

// decodeNode 从整页缓冲区解析节点，返回的节点不引用 buf
//
// 长键通过 load 读回；load 为 nil 时遇到长键视为损坏。
func decodeNode(id uint32, buf []byte, load chainLoader) (*node, error) {
	corrupt := func(what string) error {
		return engine.Faultf(engine.DBCorrupted, "decode node", "page %d: %s", id, what)
	}

	typ := pageTypeOf(buf)
	if typ != pageLeaf && typ != pageInternal {
		return nil, corrupt("unexpected page type " + typ.String())
	}
	count := pageCount(buf)
	body := buf[pageHeaderSize:]
	used := pageUsed(buf)
	if used > len(body) {
		return nil, corrupt("used size exceeds page")
	}
	body = bytes.Clone(body[:used])

	n := &node{id: id, leaf: typ == pageLeaf, keys: make([][]byte, 0, count)}
	off := 0
	readKey := func() ([]byte, error) {
		if off+2 > len(body) {
			return nil, corrupt("truncated key")
		}
		kl := int(binary.BigEndian.Uint16(body[off:]))
		off += 2
		if kl == spilledKey {
			if off+8 > len(body) {
				return nil, corrupt("truncated spilled key")
			}
			length := binary.BigEndian.Uint32(body[off:])
			first := binary.BigEndian.Uint32(body[off+4:])
			off += 8
			if load == nil || first == 0 {
				return nil, corrupt("unreadable spilled key")
			}
			k, err := load(first, length)
			if err != nil {
				return nil, err
			}
			n.spilled = append(n.spilled, first)
			return k, nil
		}
		if off+kl > len(body) {
			return nil, corrupt("truncated key")
		}
		k := body[off : off+kl : off+kl]
		off += kl
		return k, nil
	}

	if n.leaf {
		n.next = pageNext(buf)
		n.vals = make([]leafVal, 0, count)
		for i := 0; i < count; i++ {
			k, err := readKey()
			if err != nil {
				return nil, err
			}
			if off+5 > len(body) {
				return nil, corrupt("truncated leaf entry")
			}
			flag := body[off]
			l := binary.BigEndian.Uint32(body[off+1:])
			off += 5
			var v leafVal
			switch flag {
			case valInline:
				if off+int(l) > len(body) {
					return nil, corrupt("truncated inline value")
				}
				v = leafVal{inline: body[off : off+int(l) : off+int(l)], length: l}
				off += int(l)
			case valOverflow:
				if off+4 > len(body) {
					return nil, corrupt("truncated overflow reference")
				}
				v = leafVal{overflow: binary.BigEndian.Uint32(body[off:]), length: l}
				off += 4
				if v.overflow == 0 {
					return nil, corrupt("zero overflow page")
				}
			default:
				return nil, corrupt("bad value flag")
			}
			n.keys = append(n.keys, k)
			n.vals = append(n.vals, v)
		}
		return n, nil
	}

	if len(body) < 4 {
		return nil, corrupt("truncated internal node")
	}
	n.children = make([]uint32, 0, count+1)
	n.children = append(n.children, binary.BigEndian.Uint32(body[0:]))
	off = 4
	for i := 0; i < count; i++ {
		k, err := readKey()
		if err != nil {
			return nil, err
		}
		if off+4 > len(body) {
			return nil, corrupt("truncated internal entry")
		}
		n.keys = append(n.keys, k)
		n.children = append(n.children, binary.BigEndian.Uint32(body[off:]))
		off += 4
	}
	return n, nil
}
