package advcache

import (
	"testing"
	"time"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAreas_Isolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		a := f.open(t, "group-a")
		b := f.open(t, "group-b")
		assert.Equal(t, 1, f.reg.Len(), "同一存储根共享一个引擎")

		require.NoError(t, a.SaveAdvertisement("Peers", "p", []byte("A"), map[string]string{"Name": "Mike"}, time.Hour, time.Hour))
		require.NoError(t, b.SaveAdvertisement("Peers", "p", []byte("B"), map[string]string{"Name": "Mike"}, time.Hour, time.Hour))

		assert.Equal(t, []byte("A"), readPayload(t, a, "Peers", "p"))
		assert.Equal(t, []byte("B"), readPayload(t, b, "Peers", "p"))

		require.NoError(t, a.Remove("Peers", "p"))
		recs, err := b.Search("Peers", "Name", "Mi*", pkgif.NoThreshold)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestAreas_CreateAndDrop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		h := f.handle(t)

		info, err := CreateArea(h, "group-a")
		require.NoError(t, err)
		assert.Equal(t, "group-a", info.Name)
		assert.NotEmpty(t, info.ID)

		_, err = CreateArea(h, "group-a")
		assert.ErrorIs(t, err, ErrAreaExists)
		assert.Equal(t, engine.ColDuplicate, engine.CodeOf(err))

		a := f.open(t, "group-a")
		b := f.open(t, "group-b")
		require.NoError(t, a.SaveAdvertisement("Peers", "p", []byte("A"), map[string]string{"Name": "x"}, time.Hour, time.Hour))
		require.NoError(t, b.Save("Peers", "p", []byte("B"), time.Hour, time.Hour))

		areas, err := Areas(h)
		require.NoError(t, err)
		require.Len(t, areas, 2)
		assert.Equal(t, "group-a", areas[0].Name)
		assert.Equal(t, "group-b", areas[1].Name)

		require.NoError(t, DropArea(h, "group-a"))

		// 已打开的实例看到区域不存在
		_, err = a.GetInputStream("Peers", "p")
		assert.True(t, IsAreaNotFound(err))
		assert.Equal(t, engine.ColNotFound, engine.CodeOf(a.Save("Peers", "q", nil, time.Hour, time.Hour)))

		// 兄弟区域不受影响
		assert.Equal(t, []byte("B"), readPayload(t, b, "Peers", "p"))

		assert.True(t, IsAreaNotFound(DropArea(h, "group-a")))

		// 重新创建后是空区域，旧实例恢复可用
		_, err = CreateArea(h, "group-a")
		require.NoError(t, err)
		_, err = a.GetInputStream("Peers", "p")
		assert.ErrorIs(t, err, ErrNotFound)
		recs, err := a.Search("Peers", "Name", "*", pkgif.NoThreshold)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestAreas_CreateIfMissing(t *testing.T) {
	f := newFixture(t, engine.BackendBTree)

	opts := f.options("unknown")
	opts.CreateIfMissing = false
	_, err := Open(f.reg, f.cfg, opts)
	require.Error(t, err)
	assert.True(t, IsAreaNotFound(err))
	assert.Equal(t, engine.ColNotFound, engine.CodeOf(err))
	assert.Equal(t, 0, f.reg.Len(), "构造失败时释放引擎引用")

	f.open(t, "unknown")
	c, err := Open(f.reg, f.cfg, opts)
	require.NoError(t, err)
	assert.NoError(t, c.Stop())
}

func TestAreas_InvalidName(t *testing.T) {
	f := newFixture(t, engine.BackendMemory)

	_, err := Open(f.reg, f.cfg, f.options("bad/area"))
	assert.ErrorIs(t, err, ErrInvalidArea)
	assert.Equal(t, 0, f.reg.Len())

	h := f.handle(t)
	_, err = CreateArea(h, "")
	assert.ErrorIs(t, err, ErrInvalidArea)
	assert.ErrorIs(t, DropArea(h, "a b"), ErrInvalidArea)

	_, err = New(nil, f.options("ok"))
	assert.Error(t, err)
}

func TestAreas_PersistAcrossReopen(t *testing.T) {
	for _, b := range []engine.Backend{engine.BackendBTree, engine.BackendBadger, engine.BackendPebble} {
		t.Run(string(b), func(t *testing.T) {
			f := newFixture(t, b)

			c, err := Open(f.reg, f.cfg, f.options("group-a"))
			require.NoError(t, err)
			require.NoError(t, c.SaveAdvertisement("Peers", "p", []byte("persist"), map[string]string{"Name": "Mike"}, time.Hour, time.Hour))
			require.NoError(t, c.Flush())
			require.NoError(t, c.Stop())
			require.Equal(t, 0, f.reg.Len())

			opts := f.options("group-a")
			opts.CreateIfMissing = false
			c = f.openWith(t, opts)
			assert.Equal(t, []byte("persist"), readPayload(t, c, "Peers", "p"))
			recs, err := c.Search("Peers", "Name", "*ke", pkgif.NoThreshold)
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}
