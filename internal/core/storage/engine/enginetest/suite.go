// Package enginetest 提供存储引擎的通用行为测试
//
// 每个引擎实现在自己的测试中调用 Run，保证各后端对上层表现一致。
package enginetest

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 引擎构造器
type Factory struct {
	// Open 在 dir 下打开引擎；Persistent 为 true 时，关闭后再次 Open 同一 dir 应看到之前的数据
	Open func(t *testing.T, dir string) engine.InternalEngine

	// Persistent 引擎是否持久化
	Persistent bool
}

// Run 运行全部通用测试
func Run(t *testing.T, f Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, f Factory)
	}{
		{"PutGet", testPutGet},
		{"GetNotFound", testGetNotFound},
		{"Delete", testDelete},
		{"DeleteNonexistent", testDeleteNonexistent},
		{"Has", testHas},
		{"EmptyKey", testEmptyKey},
		{"EmptyValue", testEmptyValue},
		{"Overwrite", testOverwrite},
		{"BatchPutAndWrite", testBatchPutAndWrite},
		{"BatchDelete", testBatchDelete},
		{"BatchReset", testBatchReset},
		{"IteratorOrdered", testIteratorOrdered},
		{"IteratorPrefix", testIteratorPrefix},
		{"IteratorRange", testIteratorRange},
		{"IteratorReverse", testIteratorReverse},
		{"IteratorEmpty", testIteratorEmpty},
		{"TransactionReadWrite", testTransactionReadWrite},
		{"TransactionDiscard", testTransactionDiscard},
		{"TransactionReadOnly", testTransactionReadOnly},
		{"TransactionDelete", testTransactionDelete},
		{"ConcurrentReadWrite", testConcurrentReadWrite},
		{"LargeValues", testLargeValues},
		{"LongKeys", testLongKeys},
		{"KeyTooLarge", testKeyTooLarge},
		{"KeyTooLargeInBatchAndTxn", testKeyTooLargeInBatchAndTxn},
		{"CloseAndOperate", testCloseAndOperate},
		{"DoubleClose", testDoubleClose},
		{"Persistence", testPersistence},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, f)
		})
	}
}

// open 打开引擎并在测试结束时关闭
func open(t *testing.T, f Factory) engine.InternalEngine {
	t.Helper()
	e := f.Open(t, t.TempDir())
	t.Cleanup(func() {
		assert.NoError(t, e.Close())
	})
	return e
}

// ============= 基础 CRUD =============

func testPutGet(t *testing.T, f Factory) {
	e := open(t, f)

	require.NoError(t, e.Put([]byte("test-key"), []byte("test-value")))
	got, err := e.Get([]byte("test-key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("test-value"), got)
}

func testGetNotFound(t *testing.T, f Factory) {
	e := open(t, f)

	_, err := e.Get([]byte("nonexistent"))
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

func testDelete(t *testing.T, f Factory) {
	e := open(t, f)

	key := []byte("delete-key")
	require.NoError(t, e.Put(key, []byte("delete-value")))
	require.NoError(t, e.Delete(key))

	_, err := e.Get(key)
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

func testDeleteNonexistent(t *testing.T, f Factory) {
	e := open(t, f)

	assert.NoError(t, e.Delete([]byte("nonexistent")))
}

func testHas(t *testing.T, f Factory) {
	e := open(t, f)

	key := []byte("has-key")
	ok, err := e.Has(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.Put(key, []byte("v")))
	ok, err = e.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testEmptyKey(t *testing.T, f Factory) {
	e := open(t, f)

	assert.ErrorIs(t, e.Put(nil, []byte("v")), engine.ErrEmptyKey)
	_, err := e.Get([]byte{})
	assert.ErrorIs(t, err, engine.ErrEmptyKey)
}

func testEmptyValue(t *testing.T, f Factory) {
	e := open(t, f)

	key := []byte("empty-value")
	require.NoError(t, e.Put(key, []byte{}))
	got, err := e.Get(key)
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func testOverwrite(t *testing.T, f Factory) {
	e := open(t, f)

	key := []byte("overwrite-key")
	require.NoError(t, e.Put(key, []byte("value1")))
	require.NoError(t, e.Put(key, []byte("value2")))

	got, err := e.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value2"), got)
}

// ============= 批量写入 =============

func testBatchPutAndWrite(t *testing.T, f Factory) {
	e := open(t, f)

	batch := e.NewBatch()
	for i := 0; i < 100; i++ {
		batch.Put([]byte(fmt.Sprintf("batch-key-%03d", i)), []byte(fmt.Sprintf("batch-value-%d", i)))
	}
	assert.Equal(t, 100, batch.Size())
	require.NoError(t, e.Write(batch))

	for i := 0; i < 100; i++ {
		got, err := e.Get([]byte(fmt.Sprintf("batch-key-%03d", i)))
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("batch-value-%d", i)), got)
	}
}

func testBatchDelete(t *testing.T, f Factory) {
	e := open(t, f)

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("del-key-%d", i)), []byte("value")))
	}

	batch := e.NewBatch()
	for i := 0; i < 10; i++ {
		batch.Delete([]byte(fmt.Sprintf("del-key-%d", i)))
	}
	require.NoError(t, e.Write(batch))

	for i := 0; i < 10; i++ {
		_, err := e.Get([]byte(fmt.Sprintf("del-key-%d", i)))
		assert.True(t, engine.IsNotFound(err), "key %d: %v", i, err)
	}
}

func testBatchReset(t *testing.T, f Factory) {
	e := open(t, f)

	batch := e.NewBatch()
	batch.Put([]byte("key1"), []byte("value1"))
	batch.Put([]byte("key2"), []byte("value2"))
	assert.Equal(t, 2, batch.Size())

	batch.Reset()
	assert.Equal(t, 0, batch.Size())
}

// ============= 迭代器 =============

func collect(t *testing.T, it engine.Iterator) []string {
	t.Helper()
	defer it.Close()
	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	return keys
}

func testIteratorOrdered(t *testing.T, f Factory) {
	e := open(t, f)

	rng := rand.New(rand.NewSource(1))
	want := make([]string, 0, 500)
	for _, i := range rng.Perm(500) {
		k := fmt.Sprintf("k%05d", i)
		want = append(want, k)
		require.NoError(t, e.Put([]byte(k), []byte("v"+k)))
	}
	sort.Strings(want)

	it := e.NewIterator(nil)
	var got []string
	for it.First(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
		assert.Equal(t, "v"+string(it.Key()), string(it.Value()))
	}
	require.NoError(t, it.Error())
	it.Close()
	assert.Equal(t, want, got)
}

func testIteratorPrefix(t *testing.T, f Factory) {
	e := open(t, f)

	for _, k := range []string{"prefix/a", "prefix/b", "prefix/c", "other/x", "other/y", "prefiy"} {
		require.NoError(t, e.Put([]byte(k), []byte("value")))
	}

	got := collect(t, e.NewPrefixIterator([]byte("prefix/")))
	assert.Equal(t, []string{"prefix/a", "prefix/b", "prefix/c"}, got)
}

func testIteratorRange(t *testing.T, f Factory) {
	e := open(t, f)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, e.Put([]byte(k), []byte("v")))
	}

	got := collect(t, e.NewIterator(&engine.IteratorOptions{
		StartKey:       []byte("b"),
		EndKey:         []byte("e"),
		PrefetchValues: true,
	}))
	assert.Equal(t, []string{"b", "c", "d"}, got)
}

func testIteratorReverse(t *testing.T, f Factory) {
	e := open(t, f)

	for _, k := range []string{"p/1", "p/2", "p/3", "q/1"} {
		require.NoError(t, e.Put([]byte(k), []byte("v")))
	}

	got := collect(t, e.NewIterator(&engine.IteratorOptions{
		Prefix:         []byte("p/"),
		Reverse:        true,
		PrefetchValues: true,
	}))
	assert.Equal(t, []string{"p/3", "p/2", "p/1"}, got)
}

func testIteratorEmpty(t *testing.T, f Factory) {
	e := open(t, f)

	it := e.NewIterator(nil)
	defer it.Close()
	assert.False(t, it.First())
	assert.False(t, it.Valid())
}

// ============= 事务 =============

func testTransactionReadWrite(t *testing.T, f Factory) {
	e := open(t, f)

	key, value := []byte("txn-key"), []byte("txn-value")
	txn := e.NewTransaction(true)
	defer txn.Discard()

	require.NoError(t, txn.Set(key, value))
	got, err := txn.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, txn.Commit())

	got, err = e.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func testTransactionDiscard(t *testing.T, f Factory) {
	e := open(t, f)

	key := []byte("discard-key")
	txn := e.NewTransaction(true)
	require.NoError(t, txn.Set(key, []byte("discard-value")))
	txn.Discard()

	_, err := e.Get(key)
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

func testTransactionReadOnly(t *testing.T, f Factory) {
	e := open(t, f)

	key, value := []byte("readonly-key"), []byte("readonly-value")
	require.NoError(t, e.Put(key, value))

	txn := e.NewTransaction(false)
	defer txn.Discard()

	got, err := txn.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	assert.True(t, engine.IsReadOnly(txn.Set([]byte("new-key"), []byte("new-value"))))
}

func testTransactionDelete(t *testing.T, f Factory) {
	e := open(t, f)

	key := []byte("txn-del-key")
	require.NoError(t, e.Put(key, []byte("txn-del-value")))

	txn := e.NewTransaction(true)
	defer txn.Discard()
	require.NoError(t, txn.Delete(key))
	_, err := txn.Get(key)
	assert.True(t, engine.IsNotFound(err), "got %v", err)
	require.NoError(t, txn.Commit())

	_, err = e.Get(key)
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

// ============= 并发 =============

func testConcurrentReadWrite(t *testing.T, f Factory) {
	e := open(t, f)

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("rw-key-%d", i)), []byte("initial")))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 200)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("rw-key-%d", idx))
			got, err := e.Get(key)
			if err != nil {
				errCh <- fmt.Errorf("Get(%s) failed: %w", key, err)
				return
			}
			if !bytes.Equal(got, []byte("initial")) && !bytes.Equal(got, []byte(fmt.Sprintf("updated-%d", idx))) {
				errCh <- fmt.Errorf("Get(%s) returned torn value %q", key, got)
			}
		}(i)
		go func(idx int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("rw-key-%d", idx))
			if err := e.Put(key, []byte(fmt.Sprintf("updated-%d", idx))); err != nil {
				errCh <- fmt.Errorf("Put(%s) failed: %w", key, err)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}

func testLargeValues(t *testing.T, f Factory) {
	e := open(t, f)

	rng := rand.New(rand.NewSource(7))
	values := make(map[string][]byte)
	for i := 0; i < 20; i++ {
		v := make([]byte, 1+rng.Intn(64<<10))
		rng.Read(v)
		k := fmt.Sprintf("large-%02d", i)
		values[k] = v
		require.NoError(t, e.Put([]byte(k), v))
	}
	for k, v := range values {
		got, err := e.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, bytes.Equal(v, got), "value of %s differs", k)
	}
}

// ============= 键长度 =============

func testLongKeys(t *testing.T, f Factory) {
	e := open(t, f)

	keys := make([][]byte, 0, 40)
	for i := 0; i < 40; i++ {
		k := append([]byte(fmt.Sprintf("long-%02d-", i)), bytes.Repeat([]byte{'a' + byte(i%26)}, 1000+i*97)...)
		keys = append(keys, k)
		require.NoError(t, e.Put(k, []byte(fmt.Sprint(i))), "key of %d bytes", len(k))
	}
	longest := bytes.Repeat([]byte("z"), engine.MaxKeySize)
	require.NoError(t, e.Put(longest, []byte("max")))

	for i, k := range keys {
		got, err := e.Get(k)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(got))
	}
	got, err := e.Get(longest)
	require.NoError(t, err)
	assert.Equal(t, []byte("max"), got)

	it := e.NewPrefixIterator([]byte("long-"))
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		require.Equal(t, keys[n], it.Key())
		n++
	}
	require.NoError(t, it.Error())
	assert.Equal(t, len(keys), n)

	require.NoError(t, e.Delete(longest))
	ok, err := e.Has(longest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testKeyTooLarge(t *testing.T, f Factory) {
	e := open(t, f)
	huge := bytes.Repeat([]byte("k"), engine.MaxKeySize+1)

	err := e.Put(huge, []byte("v"))
	assert.ErrorIs(t, err, engine.ErrKeyTooLarge)
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(err))

	_, err = e.Get(huge)
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(err))
	_, err = e.Has(huge)
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(err))
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(e.Delete(huge)))
}

func testKeyTooLargeInBatchAndTxn(t *testing.T, f Factory) {
	e := open(t, f)
	huge := bytes.Repeat([]byte("k"), engine.MaxKeySize+1)

	b := e.NewBatch()
	b.Put([]byte("batch-a"), []byte("1"))
	b.Put(huge, []byte("2"))
	b.Put([]byte("batch-b"), []byte("3"))
	err := e.Write(b)
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(err))
	ok, err := e.Has([]byte("batch-a"))
	require.NoError(t, err)
	assert.False(t, ok, "整批不写入")

	b.Reset()
	b.Put([]byte("batch-a"), []byte("1"))
	require.NoError(t, e.Write(b))

	txn := e.NewTransaction(true)
	defer txn.Discard()
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(txn.Set(huge, []byte("v"))))
	_, err = txn.Get(huge)
	assert.Equal(t, engine.ObjKeyTooLarge, engine.CodeOf(err))
	require.NoError(t, txn.Set([]byte("txn-a"), []byte("v")))
	require.NoError(t, txn.Commit())

	got, err := e.Get([]byte("txn-a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

// ============= 关闭与持久化 =============

func testCloseAndOperate(t *testing.T, f Factory) {
	e := f.Open(t, t.TempDir())
	require.NoError(t, e.Close())

	assert.True(t, engine.IsClosed(e.Put([]byte("key"), []byte("value"))))
	_, err := e.Get([]byte("key"))
	assert.True(t, engine.IsClosed(err))
	assert.True(t, engine.IsClosed(e.Delete([]byte("key"))))
	_, err = e.Has([]byte("key"))
	assert.True(t, engine.IsClosed(err))
}

func testDoubleClose(t *testing.T, f Factory) {
	e := f.Open(t, t.TempDir())
	require.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

func testPersistence(t *testing.T, f Factory) {
	if !f.Persistent {
		t.Skip("engine is not persistent")
	}
	dir := t.TempDir()

	e := f.Open(t, dir)
	require.NoError(t, e.Put([]byte("persist-key"), []byte("persist-value")))
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	e = f.Open(t, dir)
	defer e.Close()
	got, err := e.Get([]byte("persist-key"))
	require.NoError(t, err)
	assert.Equal(t, "persist-value", string(got))
}

// IsCategory 判断错误的故障类别（测试辅助）
func IsCategory(err error, c engine.Category) bool {
	var f *engine.Fault
	if !errors.As(err, &f) {
		return false
	}
	return f.Code.Category() == c
}
