package lru

import (
	"container/list"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_InvalidSize(t *testing.T) {
	_, err := New[string, int](0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = New[string, int](-3)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestCache_GetPut(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)

	assert.False(t, c.Put("a", 1))
	assert.False(t, c.Put("b", 2))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// a 刚被访问，淘汰 b
	assert.True(t, c.Put("c", 3))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"c", "a"}, c.Keys())
}

func TestCache_UpdatePromotes(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	assert.False(t, c.Put("a", 10), "更新已有键不淘汰")
	c.Put("c", 3)

	_, ok := c.Peek("b")
	assert.False(t, ok)
	v, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCache_PeekAndContainsDoNotPromote(t *testing.T) {
	c, err := New[int, int](2)
	require.NoError(t, err)

	c.Put(1, 1)
	c.Put(2, 2)
	c.Peek(1)
	c.Contains(1)
	c.Put(3, 3)

	assert.False(t, c.Contains(1))
	k, _, ok := c.Oldest()
	require.True(t, ok)
	assert.Equal(t, 2, k)
}

func TestCache_RemoveReusesSlots(t *testing.T) {
	c, err := New[int, string](4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.Put(i, "v")
	}
	assert.True(t, c.Remove(1))
	assert.False(t, c.Remove(1))
	assert.True(t, c.Remove(3))
	c.Put(10, "x")
	c.Put(11, "y")

	assert.Equal(t, 4, c.Len())
	assert.Len(t, c.slots, 4, "删除的槽位应被复用")
	assert.Equal(t, []int{11, 10, 2, 0}, c.Keys())
}

func TestCache_Clear(t *testing.T) {
	c, err := New[string, int](3)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Keys())
	_, _, ok := c.Oldest()
	assert.False(t, ok)

	c.Put("c", 3)
	v, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCache_OnEvict(t *testing.T) {
	var evicted []string
	c, err := NewWithEvict[string, int](1, func(k string, _ int) {
		evicted = append(evicted, k)
	})
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Remove("b")
	c.Put("c", 3)
	c.Clear()

	assert.Equal(t, []string{"a"}, evicted)
}

// model 用 container/list 实现的参照 LRU
type model struct {
	size  int
	order *list.List
	elems map[int]*list.Element
}

type pair struct{ k, v int }

func (m *model) get(k int) (int, bool) {
	e, ok := m.elems[k]
	if !ok {
		return 0, false
	}
	m.order.MoveToFront(e)
	return e.Value.(pair).v, true
}

func (m *model) put(k, v int) {
	if e, ok := m.elems[k]; ok {
		e.Value = pair{k, v}
		m.order.MoveToFront(e)
		return
	}
	if m.order.Len() >= m.size {
		back := m.order.Back()
		m.order.Remove(back)
		delete(m.elems, back.Value.(pair).k)
	}
	m.elems[k] = m.order.PushFront(pair{k, v})
}

func (m *model) remove(k int) {
	if e, ok := m.elems[k]; ok {
		m.order.Remove(e)
		delete(m.elems, k)
	}
}

func (m *model) keys() []int {
	keys := make([]int, 0, m.order.Len())
	for e := m.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(pair).k)
	}
	return keys
}

func TestCache_RandomOpsMatchModel(t *testing.T) {
	const size = 16
	c, err := New[int, int](size)
	require.NoError(t, err)
	m := &model{size: size, order: list.New(), elems: make(map[int]*list.Element)}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		k := rng.Intn(40)
		switch rng.Intn(4) {
		case 0, 1:
			v := rng.Int()
			c.Put(k, v)
			m.put(k, v)
		case 2:
			got, ok := c.Get(k)
			want, wantOK := m.get(k)
			require.Equal(t, wantOK, ok)
			require.Equal(t, want, got)
		case 3:
			c.Remove(k)
			m.remove(k)
		}
		require.Equal(t, m.order.Len(), c.Len())
	}
	assert.Equal(t, m.keys(), c.Keys())
	assert.LessOrEqual(t, len(c.slots), size)
}

func BenchmarkCache_Put(b *testing.B) {
	c, _ := New[int, int](1024)
	for i := 0; i < b.N; i++ {
		c.Put(i%4096, i)
	}
}
