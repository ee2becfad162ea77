package tst

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(t *testing.T) *Tree[int] {
	t.Helper()
	tree := New[int]()
	for i, k := range []string{"Mike", "Mikael", "Smike"} {
		require.NoError(t, tree.Insert(k, i))
	}
	return tree
}

func TestSearch_Wildcards(t *testing.T) {
	tree := names(t)

	got, err := tree.Search("Mik*", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mikael", "Mike"}, got)

	got, err = tree.Search("*ike", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mike", "Smike"}, got)

	got, err = tree.Search("M*e", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mike"}, got)

	got, err = tree.Search("*", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mikael", "Mike", "Smike"}, got)

	got, err = tree.Search("X*", NoLimit)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_InvalidTerms(t *testing.T) {
	tree := names(t)
	for _, term := range []string{"Mike", "", "M*k*e", "**"} {
		_, err := tree.Search(term, NoLimit)
		assert.ErrorIs(t, err, ErrInvalidTerm, term)
	}
}

func TestSearch_InfixDoesNotOverlap(t *testing.T) {
	tree := New[struct{}]()
	for _, k := range []string{"ab", "aba", "abba"} {
		require.NoError(t, tree.Insert(k, struct{}{}))
	}
	// "ab*ba" 要求前缀和后缀不重叠
	got, err := tree.Search("ab*ba", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"abba"}, got)
}

func TestSearch_Threshold(t *testing.T) {
	tree := New[int]()
	for i := 0; i < 50; i++ {
		_, err := tree.Put(fmt.Sprintf("peer-%02d", i), i)
		require.NoError(t, err)
	}

	got, err := tree.Search("peer-*", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-00", "peer-01", "peer-02", "peer-03", "peer-04"}, got)

	got, err = tree.Search("*9", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-09", "peer-19", "peer-29"}, got)

	got, err = tree.Search("*", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchPrefix(t *testing.T) {
	tree := New[int]()
	for i, k := range []string{"car", "card", "care", "cart", "cat", "dog"} {
		require.NoError(t, tree.Insert(k, i))
	}

	assert.Equal(t, []string{"car", "card", "care", "cart"}, tree.MatchPrefix("car", NoLimit))
	assert.Equal(t, []string{"car", "card"}, tree.MatchPrefix("car", 2))
	assert.Equal(t, []string{"car"}, tree.MatchPrefix("car", 1))
	assert.Equal(t, []string{"card"}, tree.MatchPrefix("card", NoLimit))
	assert.Empty(t, tree.MatchPrefix("cow", NoLimit))
	assert.Equal(t, 6, len(tree.MatchPrefix("", NoLimit)))

	// "ca" 只是结构节点，没有数据，不应出现在结果中
	for _, k := range tree.MatchPrefix("ca", NoLimit) {
		assert.NotEqual(t, "ca", k)
	}
}

func TestInsert_DuplicatePolicy(t *testing.T) {
	tree := New[string]()
	require.NoError(t, tree.Insert("k", "v1"))
	assert.ErrorIs(t, tree.Insert("k", "v2"), ErrDuplicateKey)

	v, ok := tree.Find("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v, "失败的 Insert 不修改原值")

	replaced, err := tree.Put("k", "v3")
	require.NoError(t, err)
	assert.True(t, replaced)
	v, _ = tree.Find("k")
	assert.Equal(t, "v3", v)
	assert.Equal(t, 1, tree.Len())

	assert.ErrorIs(t, tree.Insert("", "x"), ErrEmptyKey)
	_, err = tree.Put("", "x")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestFindContains(t *testing.T) {
	tree := names(t)

	v, ok := tree.Find("Mikael")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, tree.Contains("Mike"))
	assert.False(t, tree.Contains("Mik"), "前缀节点不含数据")
	assert.False(t, tree.Contains("Mikes"))
	assert.False(t, tree.Contains(""))
}

func TestRemove(t *testing.T) {
	tree := names(t)

	assert.True(t, tree.Remove("Mike"))
	assert.False(t, tree.Remove("Mike"))
	assert.False(t, tree.Remove("Mik"))
	assert.Equal(t, 2, tree.Len())
	assert.True(t, tree.Contains("Mikael"))

	got, err := tree.Search("*ike", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Smike"}, got)

	assert.True(t, tree.Remove("Mikael"))
	assert.True(t, tree.Remove("Smike"))
	assert.Equal(t, 0, tree.Len())
	assert.Nil(t, tree.root, "删空后所有节点都应被回收")
}

func TestDeleteTree(t *testing.T) {
	tree := names(t)
	tree.DeleteTree()
	assert.Equal(t, 0, tree.Len())
	assert.Empty(t, tree.MatchPrefix("", NoLimit))
	require.NoError(t, tree.Insert("Mike", 9))
	assert.True(t, tree.Contains("Mike"))
}

func TestWalk(t *testing.T) {
	tree := names(t)
	var keys []string
	tree.Walk(func(k string, _ int) bool {
		keys = append(keys, k)
		return len(keys) < 2
	})
	assert.Equal(t, []string{"Mikael", "Mike"}, keys)
}

// TestRandomAgainstSortedSlice 随机插入删除后与排序切片比对
func TestRandomAgainstSortedSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := New[int]()
	want := make(map[string]bool)

	const alphabet = "abc"
	randKey := func() string {
		n := 1 + rng.Intn(5)
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		return sb.String()
	}

	for i := 0; i < 3000; i++ {
		k := randKey()
		if rng.Intn(3) == 0 {
			assert.Equal(t, want[k], tree.Remove(k))
			delete(want, k)
		} else {
			_, err := tree.Put(k, i)
			require.NoError(t, err)
			want[k] = true
		}
	}
	require.Equal(t, len(want), tree.Len())

	sorted := make([]string, 0, len(want))
	for k := range want {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	assert.Equal(t, sorted, tree.MatchPrefix("", NoLimit))

	for _, term := range []string{"a*", "*c", "b*a", "*"} {
		pos := strings.IndexByte(term, '*')
		prefix, suffix := term[:pos], term[pos+1:]
		var expect []string
		for _, k := range sorted {
			if len(k) >= len(prefix)+len(suffix) && strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
				expect = append(expect, k)
			}
		}
		got, err := tree.Search(term, NoLimit)
		require.NoError(t, err)
		assert.Equal(t, expect, got, term)
	}
}
