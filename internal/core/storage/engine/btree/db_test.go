package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine 创建测试用引擎
func testEngine(t *testing.T, pageSize int) *Engine {
	t.Helper()

	cfg := engine.DefaultConfig(t.TempDir()).WithPageSize(pageSize)
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, e.Close())
	})
	return e
}

func TestEngine_Suite(t *testing.T) {
	for _, pageSize := range []int{1 << 10, 4 << 10} {
		t.Run(fmt.Sprintf("page%d", pageSize), func(t *testing.T) {
			enginetest.Run(t, enginetest.Factory{
				Open: func(t *testing.T, dir string) engine.InternalEngine {
					e, err := New(engine.DefaultConfig(dir).WithPageSize(pageSize))
					require.NoError(t, err)
					return e
				},
				Persistent: true,
			})
		})
	}
}

// ============= 压力测试 =============

func TestEngine_Stress4096(t *testing.T) {
	e := testEngine(t, 4<<10)
	rng := rand.New(rand.NewSource(42))

	const n = 4096
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		v := make([]byte, rng.Intn(4096)+1)
		rng.Read(v)
		values[i] = v
		require.NoError(t, e.Put(stressKey(i), v))
	}
	require.Equal(t, uint64(n), e.Count())
	require.NoError(t, e.Verify())

	for i := 0; i < n; i++ {
		got, err := e.Get(stressKey(i))
		require.NoError(t, err)
		require.True(t, bytes.Equal(values[i], got), "record %d differs", i)
	}

	for _, i := range rng.Perm(n) {
		require.NoError(t, e.Delete(stressKey(i)))
	}
	assert.Equal(t, uint64(0), e.Count())
	assert.Equal(t, 1, e.Stats().Height)
	require.NoError(t, e.Verify())
}

func stressKey(i int) []byte {
	return []byte(fmt.Sprintf("stress/%06d", i))
}

// TestEngine_RandomOps 随机键长与值长的混合操作，与 map 模型逐步比对
func TestEngine_RandomOps(t *testing.T) {
	e := testEngine(t, 1<<10)
	rng := rand.New(rand.NewSource(3))
	model := make(map[string][]byte)
	const maxKey = 3000

	randKey := func() []byte {
		// 短键空间有限，覆盖与删除足够频繁；长键溢出到页链并撑大内部节点
		n := 1 + rng.Intn(6)
		if rng.Intn(4) == 0 {
			n = 1 + rng.Intn(maxKey)
		}
		k := make([]byte, n)
		for j := range k {
			k[j] = byte('a' + rng.Intn(3))
		}
		return k
	}

	for step := 0; step < 6000; step++ {
		k := randKey()
		switch op := rng.Intn(10); {
		case op < 6:
			v := make([]byte, rng.Intn(3000))
			rng.Read(v)
			require.NoError(t, e.Put(k, v))
			model[string(k)] = v
		default:
			require.NoError(t, e.Delete(k))
			delete(model, string(k))
		}
		if step%500 == 0 {
			require.NoError(t, e.Verify(), "step %d", step)
		}
	}

	require.NoError(t, e.Verify())
	require.Equal(t, uint64(len(model)), e.Count())
	for k, v := range model {
		got, err := e.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, bytes.Equal(v, got))
	}

	for k := range model {
		require.NoError(t, e.Delete([]byte(k)))
	}
	require.NoError(t, e.Verify())
	assert.Equal(t, uint64(0), e.Count())
}

func TestEngine_FreePagesReused(t *testing.T) {
	e := testEngine(t, 1<<10)

	big := bytes.Repeat([]byte("x"), 20<<10)
	require.NoError(t, e.Put([]byte("big"), big))
	grown := e.Stats().PageCount

	require.NoError(t, e.Delete([]byte("big")))
	assert.Greater(t, e.Stats().FreePages, int64(0))

	require.NoError(t, e.Put([]byte("big"), big))
	assert.Equal(t, grown, e.Stats().PageCount)
	assert.Equal(t, int64(0), e.Stats().FreePages)
}

func TestEngine_KeyTooLarge(t *testing.T) {
	e := testEngine(t, 1<<10)

	err := e.Put(bytes.Repeat([]byte("k"), engine.MaxKeySize+1), []byte("v"))
	assert.ErrorIs(t, err, engine.ErrKeyTooLarge)
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(err))

	longest := bytes.Repeat([]byte("k"), engine.MaxKeySize)
	require.NoError(t, e.Put(longest, []byte("v")))
	got, err := e.Get(longest)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestEngine_LongKeys(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.DefaultConfig(dir).WithPageSize(1 << 10)
	e, err := New(cfg)
	require.NoError(t, err)

	const n = 300
	longKey := func(i int) []byte {
		k := []byte(fmt.Sprintf("long/%04d/", i))
		return append(k, bytes.Repeat([]byte{byte('a' + i%26)}, 300+i*5)...)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, e.Put(longKey(i), []byte(fmt.Sprint(i))))
	}
	require.NoError(t, e.Verify())
	assert.Greater(t, e.Stats().Height, 1)
	require.NoError(t, e.Close())

	e, err = New(cfg)
	require.NoError(t, err)
	defer e.Close()
	require.Equal(t, uint64(n), e.Count())

	it := e.NewPrefixIterator([]byte("long/"))
	i := 0
	for it.First(); it.Valid(); it.Next() {
		require.Equal(t, longKey(i), it.Key())
		require.Equal(t, []byte(fmt.Sprint(i)), it.Value())
		i++
	}
	require.NoError(t, it.Error())
	it.Close()
	assert.Equal(t, n, i)

	for i := 0; i < n; i += 2 {
		require.NoError(t, e.Delete(longKey(i)))
	}
	require.NoError(t, e.Verify())
	assert.Greater(t, e.Stats().FreePages, int64(0), "溢出链随键删除而释放")
	for i := 1; i < n; i += 2 {
		got, err := e.Get(longKey(i))
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprint(i)), got)
	}

	for i := 0; i < n; i += 2 {
		require.NoError(t, e.Put(longKey(i), nil))
	}
	require.NoError(t, e.Verify())
	assert.Equal(t, uint64(n), e.Count())
}

func TestEngine_BatchIsAtomic(t *testing.T) {
	e := testEngine(t, 1<<10)
	require.NoError(t, e.Put([]byte("keep"), []byte("v")))

	batch := e.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put(bytes.Repeat([]byte("k"), engine.MaxKeySize+1), []byte("too large"))
	require.Error(t, e.Write(batch))

	_, err := e.Get([]byte("a"))
	assert.True(t, engine.IsNotFound(err))
	assert.Equal(t, uint64(1), e.Count())
	require.NoError(t, e.Verify())
}

// ============= 打开 / 创建 =============

func TestOpen_NotExist(t *testing.T) {
	cfg := engine.DefaultConfig(t.TempDir())
	_, err := Open(filepath.Join(cfg.Path, "missing.tbl"), cfg)

	require.Error(t, err)
	assert.True(t, engine.IsNotExist(err))
	assert.Equal(t, engine.ColNotFound, engine.CodeOf(err))
	assert.False(t, engine.IsCorrupted(err))
}

func TestCreate_Duplicate(t *testing.T) {
	cfg := engine.DefaultConfig(t.TempDir())
	path := filepath.Join(cfg.Path, "dup.tbl")

	e, err := Create(path, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Create(path, cfg)
	assert.ErrorIs(t, err, engine.ErrExist)
	assert.Equal(t, engine.CategoryCollection, engine.CategoryOf(err))
}

func TestOpen_Corrupted(t *testing.T) {
	cfg := engine.DefaultConfig(t.TempDir())
	path := filepath.Join(cfg.Path, "garbage.tbl")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 8192), 0644))

	_, err := Open(path, cfg)
	require.Error(t, err)
	assert.True(t, engine.IsCorrupted(err))
	assert.False(t, engine.IsNotExist(err))
	assert.True(t, enginetest.IsCategory(err, engine.CategoryDatabase))
}

func TestOpen_UnknownVersion(t *testing.T) {
	cfg := engine.DefaultConfig(t.TempDir())
	e, err := New(cfg)
	require.NoError(t, err)
	path := e.Path()
	require.NoError(t, e.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	hdr, err := readHeader(f)
	require.NoError(t, err)
	hdr.version = FormatVersion + 1
	buf := make([]byte, headerSize)
	hdr.encode(buf)
	_, err = f.WriteAt(buf, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, cfg)
	assert.ErrorIs(t, err, engine.ErrUnsupportedVersion)
	assert.Equal(t, engine.DBVersion, engine.CodeOf(err))
}

func TestEngine_PageChecksum(t *testing.T) {
	cfg := engine.DefaultConfig(t.TempDir())
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("key"), []byte("value")))
	path := e.Path()
	require.NoError(t, e.Close())

	// 翻转根叶子页体中的一个字节
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	off := int64(cfg.BTree.PageSize) + pageHeaderSize + 1
	b := make([]byte, 1)
	_, err = f.ReadAt(b, off)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e, err = Open(path, cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Get([]byte("key"))
	assert.True(t, engine.IsCorrupted(err), "got %v", err)
}

func TestEngine_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	e, err := New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("key"), []byte("value")))
	id := e.ID()
	require.NoError(t, e.Close())

	ro, err := New(engine.DefaultConfig(dir).WithReadOnly(true))
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
	assert.Equal(t, id, ro.ID())

	err = ro.Put([]byte("key"), []byte("other"))
	assert.True(t, engine.IsReadOnly(err))
	assert.Equal(t, engine.DBReadOnly, engine.CodeOf(err))
}

func TestEngine_ReopenKeepsPageSize(t *testing.T) {
	dir := t.TempDir()
	e, err := New(engine.DefaultConfig(dir).WithPageSize(2 << 10))
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("key"), bytes.Repeat([]byte("v"), 5000)))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	// 配置中的页大小只用于创建，打开时以文件头为准
	e, err = New(engine.DefaultConfig(dir).WithPageSize(8 << 10))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 2<<10, e.Stats().PageSize)

	got, err := e.Get([]byte("key"))
	require.NoError(t, err)
	assert.Len(t, got, 5000)
}

func TestConfig_BadPageSize(t *testing.T) {
	_, err := New(engine.DefaultConfig(t.TempDir()).WithPageSize(3000))
	assert.Equal(t, engine.DBBadPageSize, engine.CodeOf(err))
}
