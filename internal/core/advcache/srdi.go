package advcache

import (
	"time"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
)

// Entries 返回目录内全部存活的属性索引项，供 SRDI 全量推送
//
// clearDeltas 为 true 时同时丢弃该目录尚未取走的增量。
func (c *Cm) Entries(dir string, clearDeltas bool) ([]pkgif.IndexEntry, error) {
	if dir == "" {
		return nil, engine.Faultf(engine.ObjEmptyKey, "entries", "empty directory")
	}
	unlock, err := c.rlock("entries")
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := c.now()
	var (
		out []pkgif.IndexEntry
		bad int
	)
	err = c.attrs.PrefixScan(kv.Key(dir), func(key, value []byte) bool {
		_, attr, v, _, ok := parseAttrKey(key)
		deadline, okDeadline := decodeDeadline(value)
		if !ok || !okDeadline {
			bad++
			return true
		}
		if now < deadline {
			out = append(out, pkgif.IndexEntry{Attr: attr, Value: v, Expiration: time.Duration(deadline - now)})
		}
		return true
	})
	if err != nil {
		return nil, storeFault(engine.RuntimeIO, "entries", err)
	}
	if bad > 0 {
		logger.Warn("属性索引中存在损坏的条目", "area", c.area, "dir", dir, "count", bad)
	}
	if clearDeltas {
		c.state.takeDeltas(dir)
	}
	return out, nil
}

// Deltas 取走目录自上次调用以来新增的属性索引项
//
// 只有启用 TrackDeltas 时才会记录增量。
func (c *Cm) Deltas(dir string) []pkgif.IndexEntry {
	if c.stopped.Load() {
		return nil
	}
	return c.state.takeDeltas(dir)
}
