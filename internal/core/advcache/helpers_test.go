package advcache

import (
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dep2p/go-advcache/internal/core/storage"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	"github.com/stretchr/testify/require"
)

var backends = []engine.Backend{
	engine.BackendBTree,
	engine.BackendBadger,
	engine.BackendPebble,
	engine.BackendMemory,
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture 一个存储根：注册表、引擎配置和共享的模拟时钟
type fixture struct {
	reg *registry.Registry
	cfg *engine.Config
	clk *clock.Mock
}

func newFixture(t *testing.T, b engine.Backend) *fixture {
	t.Helper()
	reg := storage.NewRegistry()
	t.Cleanup(func() { _ = reg.CloseAll() })

	cfg := storage.DefaultConfig().WithPath(t.TempDir()).WithBackend(b)

	clk := clock.NewMock()
	clk.Set(epoch)
	return &fixture{reg: reg, cfg: cfg.ToEngineConfig(), clk: clk}
}

func (f *fixture) options(area string) Options {
	return DefaultOptions().WithArea(area).WithClock(f.clk)
}

func (f *fixture) open(t *testing.T, area string) *Cm {
	t.Helper()
	return f.openWith(t, f.options(area))
}

func (f *fixture) openWith(t *testing.T, opts Options) *Cm {
	t.Helper()
	c, err := Open(f.reg, f.cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func (f *fixture) handle(t *testing.T) *registry.Handle {
	t.Helper()
	h, err := f.reg.Acquire(f.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Release() })
	return h
}

// forEachBackend 在每种存储后端上运行同一个测试
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, b := range backends {
		b := b
		t.Run(string(b), func(t *testing.T) {
			fn(t, newFixture(t, b))
		})
	}
}

func readPayload(t *testing.T, c *Cm, dir, name string) []byte {
	t.Helper()
	rc, err := c.GetInputStream(dir, name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// checkInvariants 校验区域内三张表的一致性
//
//   - 每条主记录恰好有一条过期索引项，且截止时间与记录的 lifetime 相同
//   - 每条属性索引项都能找到持有该属性值的主记录
func checkInvariants(t *testing.T, c *Cm) {
	t.Helper()
	unlock, err := c.rlock("check")
	require.NoError(t, err)
	defer unlock()

	records := make(map[string]*record)
	require.NoError(t, c.records.PrefixScan(nil, func(key, value []byte) bool {
		r, err := decodeRecord(value)
		require.NoError(t, err)
		records[string(key)] = r
		return true
	}))

	expiries := make(map[string]int)
	require.NoError(t, c.expiry.PrefixScan(nil, func(key, _ []byte) bool {
		deadline, dir, name, ok := parseExpiryKey(key)
		require.True(t, ok)
		rk := string(recordKey(dir, name))
		r, found := records[rk]
		require.True(t, found, "orphan expiry entry %s/%s", dir, name)
		require.Equal(t, r.lifetime, deadline)
		expiries[rk]++
		return true
	}))
	for rk := range records {
		require.Equal(t, 1, expiries[rk], "record %x expiry entries", rk)
	}

	require.NoError(t, c.attrs.PrefixScan(nil, func(key, value []byte) bool {
		dir, attr, v, name, ok := parseAttrKey(key)
		require.True(t, ok)
		r, found := records[string(recordKey(dir, name))]
		require.True(t, found, "orphan attribute entry %s/%s", dir, name)
		require.Contains(t, r.attrs, attribute{name: attr, value: v})
		deadline, ok := decodeDeadline(value)
		require.True(t, ok)
		require.Equal(t, r.readDeadline(), deadline)
		return true
	}))
}
