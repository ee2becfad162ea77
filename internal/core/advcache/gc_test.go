package advcache

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dep2p/go-advcache/internal/core/storage"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

// corruptPrimary 用无法解码的字节覆盖主记录
func corruptPrimary(t *testing.T, c *Cm, dir, name string) {
	t.Helper()
	key := recordKey(dir, name)
	require.NoError(t, c.records.Put(key, []byte{0xFF, 0x01}))
	c.state.forget(string(key))
}

func countTable(t *testing.T, table *kv.Store) int64 {
	t.Helper()
	n, err := table.Count(nil)
	require.NoError(t, err)
	return n
}

func TestGC_CorruptPrimaryDropsAttributeEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		c := f.open(t, "group-1")

		require.NoError(t, c.SaveAdvertisement("Peers", "p1", nil, map[string]string{"Name": "Mike"}, time.Minute, time.Minute))
		require.NoError(t, c.SaveAdvertisement("Peers", "p2", nil, map[string]string{"Name": "Mary"}, time.Hour, time.Hour))
		hits, err := c.Search("Peers", "Name", "M*", pkgif.NoThreshold)
		require.NoError(t, err)
		require.Len(t, hits, 2)

		corruptPrimary(t, c, "Peers", "p1")
		f.clk.Add(2 * time.Minute)

		n, err := c.GarbageCollect()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, int64(1), countTable(t, c.attrs), "只剩 p2 的属性项")
		checkInvariants(t, c)

		values, err := c.state.matchValues(c.attrs, "Peers", "Name", "M*")
		require.NoError(t, err)
		assert.Equal(t, []string{"Mary"}, values, "属性值索引树同步减去")
	})
}

func TestGC_SaveOverCorruptPrimary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		c := f.open(t, "group-1")

		require.NoError(t, c.SaveAdvertisement("Peers", "p1", nil, map[string]string{"Name": "Ann"}, time.Hour, time.Hour))
		corruptPrimary(t, c, "Peers", "p1")

		require.NoError(t, c.SaveAdvertisement("Peers", "p1", []byte("b"), map[string]string{"Name": "Bob"}, 2*time.Hour, time.Hour))
		checkInvariants(t, c)
		assert.Equal(t, int64(1), countTable(t, c.expiry))

		hits, err := c.Search("Peers", "Name", "Ann", pkgif.NoThreshold)
		require.NoError(t, err)
		assert.Empty(t, hits)
		hits, err = c.Search("Peers", "Name", "Bob", pkgif.NoThreshold)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1"}, names(hits))

		corruptPrimary(t, c, "Peers", "p1")
		require.NoError(t, c.Remove("Peers", "p1"))
		assert.Zero(t, countTable(t, c.records))
		assert.Zero(t, countTable(t, c.expiry))
		assert.Zero(t, countTable(t, c.attrs))
	})
}

func TestGC_StaleExpiryEntryIsReclaimed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		c := f.open(t, "group-1")

		require.NoError(t, c.Save("Peers", "p1", []byte("x"), time.Hour, time.Hour))
		// 指向同一记录、截止时间已过的过期项
		stale := expiryKey(epoch.Add(time.Minute).UnixNano(), "Peers", "p1")
		require.NoError(t, c.expiry.Put(stale, []byte{}))

		f.clk.Add(2 * time.Minute)
		n, err := c.GarbageCollect()
		require.NoError(t, err)
		assert.Zero(t, n)

		ok, err := c.expiry.Has(stale)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []byte("x"), readPayload(t, c, "Peers", "p1"))
		checkInvariants(t, c)
	})
}

// errInjected 注入的写入失败
var errInjected = errors.New("injected write failure")

// failingEngine 启用后，写入任何包含 failOn 的键的事务提交失败
type failingEngine struct {
	engine.InternalEngine
	failOn  []byte
	enabled atomic.Bool
}

func (e *failingEngine) NewTransaction(writable bool) engine.Transaction {
	return &failingTxn{Transaction: e.InternalEngine.NewTransaction(writable), e: e}
}

type failingTxn struct {
	engine.Transaction
	e       *failingEngine
	touched bool
}

func (t *failingTxn) mark(key []byte) {
	if t.e.enabled.Load() && bytes.Contains(key, t.e.failOn) {
		t.touched = true
	}
}

func (t *failingTxn) Set(key, value []byte) error {
	t.mark(key)
	return t.Transaction.Set(key, value)
}

func (t *failingTxn) Delete(key []byte) error {
	t.mark(key)
	return t.Transaction.Delete(key)
}

func (t *failingTxn) Commit() error {
	if t.touched {
		t.Transaction.Discard()
		return errInjected
	}
	return t.Transaction.Commit()
}

func TestGC_PartialFailureContinues(t *testing.T) {
	var fe *failingEngine
	reg := registry.New(func(cfg *engine.Config) (engine.InternalEngine, error) {
		eng, err := storage.OpenEngine(cfg)
		if err != nil {
			return nil, err
		}
		fe = &failingEngine{InternalEngine: eng, failOn: []byte("doomed")}
		return fe, nil
	})
	t.Cleanup(func() { _ = reg.CloseAll() })

	f := newFixture(t, engine.BackendBTree)
	f.reg = reg
	c := f.open(t, "group-1")

	for _, name := range []string{"a1", "doomed", "a2"} {
		require.NoError(t, c.SaveAdvertisement("Peers", name, nil, map[string]string{"Name": name}, time.Minute, time.Minute))
	}
	require.NoError(t, c.Save("Peers", "keep", nil, time.Hour, time.Hour))

	fe.enabled.Store(true)
	f.clk.Add(2 * time.Minute)

	n, err := c.GarbageCollect()
	require.Error(t, err)
	assert.Equal(t, 2, n, "失败的候选项不影响其余记录")
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "Peers/doomed")
	assert.ErrorIs(t, errs[0], errInjected)
	assert.Equal(t, engine.ObjCannotRemove, engine.CodeOf(errs[0]))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.m.gcFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.m.gcRemoved))

	for _, name := range []string{"a1", "a2"} {
		ok, err := c.records.Has(recordKey("Peers", name))
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
	ok, err := c.records.Has(recordKey("Peers", "doomed"))
	require.NoError(t, err)
	assert.True(t, ok, "失败的事务没有提交任何删除")
	checkInvariants(t, c)

	// 故障消失后下一轮回收补上
	fe.enabled.Store(false)
	n, err = c.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.GetInputStream("Peers", "keep")
	require.NoError(t, err)
	checkInvariants(t, c)
}
