package kv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Split(t *testing.T) {
	k := Key("Peers", "Name", "", "p1")
	parts, ok := SplitKey(k, 4)
	require.True(t, ok)
	assert.Equal(t, []string{"Peers", "Name", "", "p1"}, parts)

	_, ok = SplitKey(k, 3)
	assert.False(t, ok, "多余字节")
	_, ok = SplitKey(k[:len(k)-1], 4)
	assert.False(t, ok, "截断")
	_, ok = SplitKey([]byte{0}, 1)
	assert.False(t, ok)
}

func TestKey_AppendMatchesKey(t *testing.T) {
	prefix := []byte{'x', 0, 0, 0, 0, 0, 0, 0, 9}
	k := AppendKey(bytes.Clone(prefix), "dir", "name")
	assert.Equal(t, append(prefix, Key("dir", "name")...), k)

	name, rest, ok := ReadComponent(k[len(prefix):])
	require.True(t, ok)
	assert.Equal(t, "dir", name)
	assert.Equal(t, Key("name"), rest)
}

func TestKey_PrefixUnambiguous(t *testing.T) {
	// "Peer" 目录的前缀不能覆盖 "Peers" 下的键
	assert.False(t, bytes.HasPrefix(Key("Peers", "p"), Key("Peer")))
	assert.True(t, bytes.HasPrefix(Key("Peers", "p"), Key("Peers")))
	assert.False(t, bytes.HasPrefix(Key("group-10"), Key("group-1")))
}

func TestKey_LongComponent(t *testing.T) {
	long := string(bytes.Repeat([]byte("n"), 1200))
	parts, ok := SplitKey(Key(long, "v"), 2)
	require.True(t, ok)
	assert.Equal(t, long, parts[0])
	assert.Equal(t, "v", parts[1])
}
