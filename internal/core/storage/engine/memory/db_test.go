package memory

import (
	"testing"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Suite(t *testing.T) {
	enginetest.Run(t, enginetest.Factory{
		Open: func(t *testing.T, _ string) engine.InternalEngine {
			e, err := New(nil)
			require.NoError(t, err)
			return e
		},
	})
}

func TestIterator_Snapshot(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	it := e.NewIterator(nil)
	defer it.Close()

	// 迭代器创建之后的写入不可见
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Delete([]byte("a")))

	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"a"}, keys)
}

func TestEngine_Stats(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	defer e.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, e.Put([]byte(k), []byte("v")))
	}
	_, _ = e.Get([]byte("a"))
	_, _ = e.Get([]byte("missing"))

	stats := e.Stats()
	assert.Equal(t, int64(3), stats.KeyCount)
	assert.Equal(t, int64(3), stats.NumWrites)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
}
