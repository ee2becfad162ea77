package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/btree"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// countingOpener 记录打开次数的内存引擎打开器
func countingOpener(opens *atomic.Int32) Opener {
	return func(cfg *engine.Config) (engine.InternalEngine, error) {
		opens.Add(1)
		return memory.New(cfg)
	}
}

func memConfig(path string) *engine.Config {
	return engine.DefaultConfig(path).WithBackend(engine.BackendMemory)
}

func TestRegistry_SharesEngine(t *testing.T) {
	var opens atomic.Int32
	reg := New(countingOpener(&opens))
	dir := t.TempDir()

	h1, err := reg.Acquire(memConfig(dir))
	require.NoError(t, err)
	// 不同写法的同一目录
	h2, err := reg.Acquire(memConfig(dir + "/./"))
	require.NoError(t, err)

	assert.Same(t, h1.Engine(), h2.Engine())
	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, 2, reg.Refs(memConfig(dir)))

	require.NoError(t, h1.Engine().Put([]byte("k"), []byte("v")))
	v, err := h2.Engine().Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, h1.Release())
	require.NoError(t, h1.Release(), "Release 是幂等的")
	assert.Equal(t, 1, reg.Refs(memConfig(dir)))
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, h2.Release())
	assert.Equal(t, 0, reg.Len())

	// 再次获取会重新打开
	h3, err := reg.Acquire(memConfig(dir))
	require.NoError(t, err)
	defer h3.Release()
	assert.Equal(t, int32(2), opens.Load())
}

func TestRegistry_SymlinkResolvesToSameRoot(t *testing.T) {
	var opens atomic.Int32
	reg := New(countingOpener(&opens))
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	h1, err := reg.Acquire(memConfig(real))
	require.NoError(t, err)
	defer h1.Release()
	h2, err := reg.Acquire(memConfig(link))
	require.NoError(t, err)
	defer h2.Release()

	assert.Equal(t, h1.Root(), h2.Root())
	assert.Equal(t, int32(1), opens.Load())
}

func TestRegistry_ConcurrentAcquireOpensOnce(t *testing.T) {
	var opens atomic.Int32
	reg := New(countingOpener(&opens))
	dir := t.TempDir()

	handles := make([]*Handle, 64)
	var g errgroup.Group
	for i := range handles {
		i := i
		g.Go(func() error {
			h, err := reg.Acquire(memConfig(dir))
			handles[i] = h
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, 64, reg.Refs(memConfig(dir)))

	for _, h := range handles {
		g.Go(h.Release)
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ManyInstancesOneFile(t *testing.T) {
	reg := New(func(cfg *engine.Config) (engine.InternalEngine, error) {
		return btree.New(cfg)
	})
	cfg := engine.DefaultConfig(t.TempDir())

	// B-tree 页文件带排他锁，若每次都重新打开第二次就会失败
	var handles []*Handle
	for i := 0; i < 32; i++ {
		h, err := reg.Acquire(cfg)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, 1, reg.Len())

	for _, h := range handles {
		require.NoError(t, h.Release())
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_NotADirectory(t *testing.T) {
	var opens atomic.Int32
	reg := New(countingOpener(&opens))
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := reg.Acquire(memConfig(file))
	require.Error(t, err)
	assert.Equal(t, engine.URINotADir, engine.CodeOf(err))
	assert.Equal(t, int32(0), opens.Load(), "校验失败不应触碰存储")
}

func TestRegistry_OpenFailure(t *testing.T) {
	boom := errors.New("boom")
	reg := New(func(*engine.Config) (engine.InternalEngine, error) { return nil, boom })

	_, err := reg.Acquire(memConfig(t.TempDir()))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, reg.Len())
}

type closeRecorder struct{ closed atomic.Bool }

func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return nil
}

func TestHandle_Shared(t *testing.T) {
	var opens atomic.Int32
	reg := New(countingOpener(&opens))
	dir := t.TempDir()

	h1, err := reg.Acquire(memConfig(dir))
	require.NoError(t, err)
	h2, err := reg.Acquire(memConfig(dir))
	require.NoError(t, err)

	var inits int
	mk := func() any { inits++; return &closeRecorder{} }
	a := h1.Shared("area/x", mk).(*closeRecorder)
	b := h2.Shared("area/x", mk).(*closeRecorder)
	assert.Same(t, a, b)
	assert.Equal(t, 1, inits)

	require.NoError(t, h1.Release())
	assert.False(t, a.closed.Load())
	require.NoError(t, h2.Release())
	assert.True(t, a.closed.Load())
}

func TestRegistry_CloseAll(t *testing.T) {
	var opens atomic.Int32
	reg := New(countingOpener(&opens))

	h1, err := reg.Acquire(memConfig(t.TempDir()))
	require.NoError(t, err)
	h2, err := reg.Acquire(memConfig(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, reg.CloseAll())
	assert.Equal(t, 0, reg.Len())
	assert.True(t, engine.IsClosed(h1.Engine().Put([]byte("k"), nil)))

	// CloseAll 之后 Release 不报错也不重复关闭
	assert.NoError(t, h1.Release())
	assert.NoError(t, h2.Release())

	_, err = reg.Acquire(memConfig(t.TempDir()))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCanonical(t *testing.T) {
	_, err := Canonical("")
	assert.Equal(t, engine.URIInvalidPath, engine.CodeOf(err))

	missing := filepath.Join(t.TempDir(), "a", "..", "b")
	got, err := Canonical(missing)
	require.NoError(t, err)
	assert.Equal(t, "b", filepath.Base(got))
	assert.True(t, filepath.IsAbs(got))
}

func TestRegistry_MissingRootUnderSymlinkedParent(t *testing.T) {
	var opens atomic.Int32
	reg := New(func(cfg *engine.Config) (engine.InternalEngine, error) {
		opens.Add(1)
		return btree.New(cfg)
	})
	t.Cleanup(func() { _ = reg.CloseAll() })

	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	// 第一次打开时 store 还不存在，由引擎创建
	viaLink := engine.DefaultConfig(filepath.Join(link, "store")).WithBackend(engine.BackendBTree)
	h1, err := reg.Acquire(viaLink)
	require.NoError(t, err)
	defer h1.Release()
	_, err = os.Stat(filepath.Join(real, "store"))
	require.NoError(t, err)

	viaReal := engine.DefaultConfig(filepath.Join(real, "store")).WithBackend(engine.BackendBTree)
	h2, err := reg.Acquire(viaReal)
	require.NoError(t, err)
	defer h2.Release()

	assert.Equal(t, h1.Root(), h2.Root())
	assert.Same(t, h1.Engine(), h2.Engine())
	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 2, reg.Refs(viaLink))

	resolved, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	got, err := Canonical(filepath.Join(link, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolved, "a", "b"), got)
}
