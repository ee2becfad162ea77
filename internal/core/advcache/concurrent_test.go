package advcache

import (
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestConcurrent_Stress 多个实例在同一区域上并发读写、搜索和回收
func TestConcurrent_Stress(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		instances := []*Cm{f.open(t, "group-1"), f.open(t, "group-1"), f.open(t, "group-2")}

		const (
			workers = 8
			ops     = 150
		)
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			w := w
			g.Go(func() error {
				rng := rand.New(rand.NewSource(int64(w)))
				c := instances[w%len(instances)]
				for i := 0; i < ops; i++ {
					name := fmt.Sprintf("p%d", rng.Intn(20))
					switch rng.Intn(6) {
					case 0, 1:
						attrs := map[string]string{"Name": fmt.Sprintf("peer-%d", rng.Intn(5))}
						life := time.Duration(1+rng.Intn(3)) * time.Minute
						if err := c.SaveAdvertisement("Peers", name, []byte(name), attrs, life, life); err != nil {
							return err
						}
					case 2:
						if err := c.Remove("Peers", name); err != nil {
							return err
						}
					case 3:
						rc, err := c.GetInputStream("Peers", name)
						if err != nil {
							if IsNotFound(err) {
								continue
							}
							return err
						}
						data, err := io.ReadAll(rc)
						if err != nil {
							return err
						}
						if string(data) != name {
							return fmt.Errorf("payload %q for %s", data, name)
						}
					case 4:
						if _, err := c.Search("Peers", "Name", "peer-*", 5); err != nil {
							return err
						}
					case 5:
						if _, err := c.GarbageCollect(); err != nil {
							return err
						}
					}
				}
				return nil
			})
		}
		// 时钟在工作者运行时推进，使部分记录在 GC 期间过期
		var done atomic.Bool
		var ticker errgroup.Group
		ticker.Go(func() error {
			for !done.Load() {
				f.clk.Add(10 * time.Second)
				time.Sleep(time.Millisecond)
			}
			return nil
		})
		require.NoError(t, g.Wait())
		done.Store(true)
		require.NoError(t, ticker.Wait())

		for _, c := range instances {
			checkInvariants(t, c)
		}

		// 全部过期后一次 GC 清空两个区域
		f.clk.Add(time.Hour)
		for _, c := range []*Cm{instances[0], instances[2]} {
			_, err := c.GarbageCollect()
			require.NoError(t, err)
			stats, err := c.Stats()
			require.NoError(t, err)
			assert.Zero(t, stats.Records)
			checkInvariants(t, c)
		}
	})
}

// TestConcurrent_SaveIsAtomicForReaders 读者只看到覆盖保存前或后的完整记录
func TestConcurrent_SaveIsAtomicForReaders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		c := f.open(t, "group-1")
		require.NoError(t, c.SaveAdvertisement("Peers", "p", []byte("v0"), map[string]string{"Ver": "v0"}, time.Hour, time.Hour))

		var g errgroup.Group
		g.Go(func() error {
			for i := 1; i <= 100; i++ {
				v := fmt.Sprintf("v%d", i)
				if err := c.SaveAdvertisement("Peers", "p", []byte(v), map[string]string{"Ver": v}, time.Hour, time.Hour); err != nil {
					return err
				}
			}
			return nil
		})
		for r := 0; r < 4; r++ {
			g.Go(func() error {
				for i := 0; i < 100; i++ {
					recs, err := c.Search("Peers", "Ver", "v*", pkgif.NoThreshold)
					if err != nil {
						return err
					}
					if len(recs) != 1 {
						return fmt.Errorf("search saw %d records", len(recs))
					}
					if _, err := c.GetInputStream("Peers", "p"); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, []byte("v100"), readPayload(t, c, "Peers", "p"))
		checkInvariants(t, c)
	})
}

// TestConcurrent_OpenStopSameRoot 并发打开和停止同一存储根上的实例
func TestConcurrent_OpenStopSameRoot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		keep := f.open(t, "group-1")

		var g errgroup.Group
		for i := 0; i < 16; i++ {
			i := i
			g.Go(func() error {
				c, err := Open(f.reg, f.cfg, f.options("group-1"))
				if err != nil {
					return err
				}
				if err := c.Save("Peers", fmt.Sprintf("p%d", i), []byte("x"), time.Hour, time.Hour); err != nil {
					return err
				}
				return c.Stop()
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, 1, f.reg.Len())
		assert.Equal(t, 1, f.reg.Refs(f.cfg))
		recs, err := keep.GetRecords("Peers", pkgif.NoThreshold)
		require.NoError(t, err)
		assert.Len(t, recs, 16)
	})
}
