package btree

import (
	"bytes"
	"testing"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_LeafCodec(t *testing.T) {
	n := newLeaf(7)
	n.next = 9
	n.insertEntry(0, []byte("b"), leafVal{inline: []byte("bee"), length: 3})
	n.insertEntry(0, []byte("a"), leafVal{inline: []byte{}, length: 0})
	n.insertEntry(2, []byte("c"), leafVal{overflow: 12, length: 70000})

	buf := make([]byte, 1024)
	n.encode(buf, inlineKeyLimit(1024))
	sealPage(buf)
	require.NoError(t, verifyPage(7, buf))

	got, err := decodeNode(7, buf, nil)
	require.NoError(t, err)
	assert.True(t, got.leaf)
	assert.Equal(t, uint32(9), got.next)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, got.keys)
	assert.Equal(t, []byte("bee"), got.vals[1].inline)
	assert.Equal(t, uint32(12), got.vals[2].overflow)
	assert.Equal(t, uint32(70000), got.vals[2].length)
	assert.Equal(t, n.size(inlineKeyLimit(1024)), pageUsed(buf))
}

func TestNode_InternalCodec(t *testing.T) {
	n := &node{id: 3, children: []uint32{10}}
	n.insertChild(0, []byte("m"), 11)
	n.insertChild(1, []byte("t"), 12)
	n.insertChild(0, []byte("f"), 13)

	assert.Equal(t, []uint32{10, 13, 11, 12}, n.children)
	assert.Equal(t, 0, n.childIndex([]byte("a")))
	assert.Equal(t, 1, n.childIndex([]byte("f")))
	assert.Equal(t, 3, n.childIndex([]byte("z")))

	buf := make([]byte, 1024)
	n.encode(buf, inlineKeyLimit(1024))
	got, err := decodeNode(3, buf, nil)
	require.NoError(t, err)
	assert.False(t, got.leaf)
	assert.Equal(t, n.keys, got.keys)
	assert.Equal(t, n.children, got.children)

	got.removeChild(1)
	assert.Equal(t, [][]byte{[]byte("f"), []byte("t")}, got.keys)
	assert.Equal(t, []uint32{10, 13, 12}, got.children)
}

func TestNode_DecodeRejectsGarbage(t *testing.T) {
	buf := make([]byte, 1024)
	setPageHeader(buf, pageLeaf, 5, 0, 100)
	buf[pageHeaderSize] = 0xFF
	buf[pageHeaderSize+1] = 0xFF

	_, err := decodeNode(1, buf, nil)
	assert.True(t, engine.IsCorrupted(err))

	setPageHeader(buf, pageOverflow, 0, 0, 10)
	_, err = decodeNode(1, buf, nil)
	assert.True(t, engine.IsCorrupted(err))
}

func TestNode_SpilledKeys(t *testing.T) {
	const inline = 16
	long1 := bytes.Repeat([]byte("m"), 200)
	long2 := bytes.Repeat([]byte("z"), 40)

	n := newLeaf(4)
	n.insertEntry(0, []byte("a"), leafVal{inline: []byte("1"), length: 1})
	n.insertEntry(1, long1, leafVal{inline: []byte("2"), length: 1})
	n.insertEntry(2, long2, leafVal{overflow: 30, length: 5000})
	n.spilled = []uint32{21, 25}

	assert.Equal(t, 3+6+10+6+10+9, n.size(inline))

	buf := make([]byte, 1024)
	n.encode(buf, inline)
	assert.Equal(t, n.size(inline), pageUsed(buf))

	chains := map[uint32][]byte{21: long1, 25: long2}
	got, err := decodeNode(4, buf, func(first, length uint32) ([]byte, error) {
		k, ok := chains[first]
		require.True(t, ok, "chain %d", first)
		require.Equal(t, uint32(len(k)), length)
		return bytes.Clone(k), nil
	})
	require.NoError(t, err)
	assert.Equal(t, n.keys, got.keys)
	assert.Equal(t, []uint32{21, 25}, got.spilled)
	assert.Equal(t, uint32(30), got.vals[2].overflow)

	_, err = decodeNode(4, buf, nil)
	assert.True(t, engine.IsCorrupted(err))

	c := got.clone()
	c.spilled[0] = 99
	assert.Equal(t, uint32(21), got.spilled[0], "clone 不共享 spilled")
}

func TestSplitPoint(t *testing.T) {
	sizes := []int{10, 10, 10, 10}
	k := splitPoint(len(sizes), func(i int) int { return sizes[i] }, 40)
	assert.Equal(t, 2, k)

	// 第一个条目就超过一半时左边仍至少保留一个
	sizes = []int{100, 1, 1}
	k = splitPoint(len(sizes), func(i int) int { return sizes[i] }, 102)
	assert.Equal(t, 1, k)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("ab"), prefixEnd([]byte("aa")))
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a\xff")))
	assert.Nil(t, prefixEnd([]byte("\xff\xff")))
}
