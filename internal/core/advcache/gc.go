package advcache

import (
	"fmt"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"go.uber.org/multierr"
)

// gcCandidate 清扫快照中的一条过期索引项
type gcCandidate struct {
	deadline int64
	dir      string
	name     string
}

// GarbageCollect 物理删除 lifetime 已过的记录
//
// 先在读锁内按截止时间顺序扫描过期索引得到候选快照，再逐条在写锁内删除，
// 清扫期间保存和删除可以穿插进行。快照之后被重新保存（lifetime 改变）的记录
// 不会被删除。单条失败记录日志后继续，全部失败聚合在返回的错误中。
// 返回值只计本次调用删除的记录数。
func (c *Cm) GarbageCollect() (int, error) {
	unlock, err := c.rlock("gc")
	if err != nil {
		return 0, err
	}
	now := c.now()
	var (
		cands []gcCandidate
		bad   int
	)
	err = c.expiry.RangeScan(nil, expiryEnd(now), func(key, _ []byte) bool {
		deadline, dir, name, ok := parseExpiryKey(key)
		if !ok {
			bad++
			return true
		}
		cands = append(cands, gcCandidate{deadline: deadline, dir: dir, name: name})
		return true
	})
	unlock()
	if err != nil {
		return 0, storeFault(engine.RuntimeIO, "gc", err)
	}
	if bad > 0 {
		logger.Warn("过期索引中存在无法解析的键", "area", c.area, "count", bad)
	}

	var (
		removed int
		errs    error
	)
	for _, cand := range cands {
		ok, err := c.collect(cand)
		if err != nil {
			logger.Warn("回收记录失败", "area", c.area, "dir", cand.dir, "name", cand.name, "error", err)
			c.m.gcFailures.Inc()
			errs = multierr.Append(errs, fmt.Errorf("gc %s/%s: %w", cand.dir, cand.name, err))
			continue
		}
		if ok {
			removed++
		}
	}
	c.m.gcRemoved.Add(float64(removed))
	logger.Debug("垃圾回收完成", "area", c.area, "candidates", len(cands), "removed", removed)
	return removed, errs
}

// collect 在写锁内删除一条候选记录，返回是否删除了主记录
func (c *Cm) collect(cand gcCandidate) (bool, error) {
	unlock, err := c.lock("gc")
	if err != nil {
		return false, err
	}
	defer unlock()

	key := recordKey(cand.dir, cand.name)
	txn := c.records.NewTransaction(true)
	defer txn.Discard()

	r, exists, err := readTxn(txn, key)
	if err != nil {
		return false, storeFault(engine.ObjCannotRemove, "gc", err)
	}
	switch {
	case !exists, r != nil && r.lifetime != cand.deadline:
		// 主记录已不存在，或快照之后被重新保存：候选项不属于当前记录，只清理它本身
		if err := c.expiry.In(txn).Delete(expiryKey(cand.deadline, cand.dir, cand.name)); err != nil {
			return false, storeFault(engine.ObjCannotRemove, "gc", err)
		}
		return false, storeFault(engine.ObjCannotRemove, "gc", txn.Commit())
	}

	if err := txn.Delete(key); err != nil {
		return false, storeFault(engine.ObjCannotRemove, "gc", err)
	}
	removed, err := c.deleteEntries(txn, cand.dir, cand.name, r)
	if err != nil {
		return false, storeFault(engine.ObjCannotRemove, "gc", err)
	}
	if err := txn.Commit(); err != nil {
		return false, storeFault(engine.ObjCannotRemove, "gc", err)
	}

	c.state.forget(string(key))
	c.state.adjustIndexes(cand.dir, removed, nil)
	return true, nil
}
