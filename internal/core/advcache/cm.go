package advcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
	"github.com/dep2p/go-advcache/pkg/lib/log"
)

// logger 通告缓存日志
var logger = log.Logger("core/advcache")

// Cm 单个区域的通告缓存
//
// Cm 把注入的存储引擎与过期索引、属性索引组合成 AdvertisementCache。
// 同一存储根、同一区域的多个 Cm 共享一份区域状态（锁、索引树、记录缓存），
// 每个写操作在一个引擎事务内完成，读者只会看到写之前或之后的状态。
type Cm struct {
	tables

	area  string
	h     *registry.Handle
	state *areaState
	clock clock.Clock
	m     *metrics

	trackDeltas bool
	maxDeltas   int

	stopped atomic.Bool
}

var _ pkgif.AdvertisementCache = (*Cm)(nil)

// New 在注册表句柄上打开区域
//
// New 接管 h：成功时由 Stop 释放，失败时在返回前释放。
func New(h *registry.Handle, opts Options) (*Cm, error) {
	if h == nil {
		return nil, engine.Faultf(engine.GenInvalid, "open area", "nil storage handle")
	}
	if err := opts.validate(); err != nil {
		_ = h.Release()
		return nil, engine.NewFault(engine.URIInvalidPath, "open area", fmt.Errorf("%w: %q", err, opts.Area))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	st := attachState(h, opts.Area, opts.RecordCacheSize)
	if err := ensureArea(h, st, opts.Area, opts.CreateIfMissing, clk.Now()); err != nil {
		_ = h.Release()
		return nil, err
	}

	c := &Cm{
		area:        opts.Area,
		h:           h,
		tables:      openTables(kv.New(h.Engine(), areaPrefix(opts.Area))),
		state:       st,
		clock:       clk,
		m:           newMetrics(opts.Registerer, opts.Area),
		trackDeltas: opts.TrackDeltas,
		maxDeltas:   opts.MaxDeltas,
	}
	logger.Debug("打开区域", "area", opts.Area, "root", h.Root())
	return c, nil
}

// Open 从注册表取得存储根的共享引擎并打开区域
func Open(reg *registry.Registry, cfg *engine.Config, opts Options) (*Cm, error) {
	h, err := reg.Acquire(cfg)
	if err != nil {
		return nil, err
	}
	return New(h, opts)
}

func ensureArea(h *registry.Handle, st *areaState, area string, create bool, now time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, err := lookupArea(h.Engine(), area)
	switch {
	case err == nil:
		return nil
	case !IsAreaNotFound(err) || !create:
		return err
	}
	if _, err := createAreaLocked(h.Engine(), area, now); err != nil {
		return err
	}
	st.dropped = false
	return nil
}

// Area 返回区域名
func (c *Cm) Area() string {
	return c.area
}

// Root 返回存储根目录
func (c *Cm) Root() string {
	return c.h.Root()
}

func (c *Cm) now() int64 {
	return c.clock.Now().UnixNano()
}

// rlock 取区域读锁，缓存已停止或区域已删除时返回错误
func (c *Cm) rlock(op string) (func(), error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	c.state.mu.RLock()
	if c.state.dropped {
		c.state.mu.RUnlock()
		return nil, engine.Faultf(engine.ColNotFound, op, "area %q was dropped", c.area)
	}
	return c.state.mu.RUnlock, nil
}

// lock 取区域写锁
func (c *Cm) lock(op string) (func(), error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	c.state.mu.Lock()
	if c.state.dropped {
		c.state.mu.Unlock()
		return nil, engine.Faultf(engine.ColNotFound, op, "area %q was dropped", c.area)
	}
	return c.state.mu.Unlock, nil
}

// checkName 校验目录与名称，主记录键过长时返回 ObjKeyTooLarge
func (c *Cm) checkName(op, dir, name string) error {
	if dir == "" || name == "" {
		return engine.Faultf(engine.ObjEmptyKey, op, "empty directory or name")
	}
	return c.records.CheckKey(op, recordKey(dir, name))
}

// checkSave 在加锁之前校验一次保存将写入的全部键
//
// 所有后端接受同样长度的键，这里的拒绝与后端无关。
func (c *Cm) checkSave(op, dir, name string, attrs map[string]string) error {
	if err := c.checkName(op, dir, name); err != nil {
		return err
	}
	if err := c.expiry.CheckKey(op, expiryKey(0, dir, name)); err != nil {
		return err
	}
	for k, v := range attrs {
		if k == "" {
			return engine.Faultf(engine.ObjEmptyKey, op, "empty attribute name")
		}
		if err := c.attrs.CheckKey(op, attrKey(dir, k, v, name)); err != nil {
			return err
		}
	}
	return nil
}

// ============= 写操作 =============

// Save 保存原始数据块
func (c *Cm) Save(dir, name string, payload []byte, lifetime, expiration time.Duration) error {
	return c.save("save", dir, name, payload, nil, false, lifetime, expiration)
}

// SaveAdvertisement 保存通告并为 attrs 建立属性索引
func (c *Cm) SaveAdvertisement(dir, name string, payload []byte, attrs map[string]string, lifetime, expiration time.Duration) error {
	return c.save("save advertisement", dir, name, payload, attrs, true, lifetime, expiration)
}

func (c *Cm) save(op, dir, name string, payload []byte, attrs map[string]string, adv bool, lifetime, expiration time.Duration) error {
	if err := c.checkSave(op, dir, name, attrs); err != nil {
		return err
	}

	unlock, err := c.lock(op)
	if err != nil {
		return err
	}
	defer unlock()

	now := c.now()
	rec := &record{
		advertisement: adv,
		lifetime:      absDeadline(now, lifetime),
		expiration:    absDeadline(now, expiration),
		attrs:         sortedAttrs(attrs),
		payload:       bytes.Clone(payload),
	}
	key := recordKey(dir, name)

	txn := c.records.NewTransaction(true)
	defer txn.Discard()

	old, exists, err := readTxn(txn, key)
	if err != nil {
		return storeFault(engine.ObjCannotStore, op, err)
	}
	var removed []attribute
	if exists {
		if removed, err = c.deleteEntries(txn, dir, name, old); err != nil {
			return storeFault(engine.ObjCannotStore, op, err)
		}
	}
	if err := c.writeEntries(txn, key, dir, name, rec); err != nil {
		return storeFault(engine.ObjCannotStore, op, err)
	}
	if err := txn.Commit(); err != nil {
		return storeFault(engine.ObjCannotStore, op, err)
	}

	c.state.forget(string(key))
	c.state.adjustIndexes(dir, removed, rec.attrs)
	if c.trackDeltas && len(rec.attrs) > 0 {
		remain := time.Duration(max(rec.readDeadline()-now, 0))
		entries := make([]pkgif.IndexEntry, 0, len(rec.attrs))
		for _, a := range rec.attrs {
			entries = append(entries, pkgif.IndexEntry{Attr: a.name, Value: a.value, Expiration: remain})
		}
		c.state.appendDeltas(dir, entries, c.maxDeltas)
	}
	c.m.saves.Inc()
	return nil
}

// Remove 删除记录及其全部索引项，键不存在时不报错
func (c *Cm) Remove(dir, name string) error {
	if err := c.checkName("remove", dir, name); err != nil {
		return err
	}
	unlock, err := c.lock("remove")
	if err != nil {
		return err
	}
	defer unlock()

	key := recordKey(dir, name)
	txn := c.records.NewTransaction(true)
	defer txn.Discard()

	old, exists, err := readTxn(txn, key)
	if err != nil {
		return storeFault(engine.ObjCannotRemove, "remove", err)
	}
	if !exists {
		return nil
	}
	if err := txn.Delete(key); err != nil {
		return storeFault(engine.ObjCannotRemove, "remove", err)
	}
	removed, err := c.deleteEntries(txn, dir, name, old)
	if err != nil {
		return storeFault(engine.ObjCannotRemove, "remove", err)
	}
	if err := txn.Commit(); err != nil {
		return storeFault(engine.ObjCannotRemove, "remove", err)
	}

	c.state.forget(string(key))
	c.state.adjustIndexes(dir, removed, nil)
	c.m.removes.Inc()
	return nil
}

// readTxn 在记录表事务中读取主记录
//
// 返回的 exists 为 true 而记录为 nil 表示主记录无法解码，
// 它的索引项只能靠扫描找到（见 dropOrphans）。
func readTxn(txn *kv.Transaction, key []byte) (*record, bool, error) {
	raw, err := txn.Get(key)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	r, err := decodeRecord(raw)
	if err != nil {
		logger.Warn("主记录损坏，按覆盖处理", "key", fmt.Sprintf("%x", key), "error", err)
		return nil, true, nil
	}
	return r, true, nil
}

// writeEntries 在记录表事务 txn 中写入主记录与它的索引项
func (t tables) writeEntries(txn *kv.Transaction, key []byte, dir, name string, r *record) error {
	if err := txn.Set(key, r.encode()); err != nil {
		return err
	}
	if err := t.expiry.In(txn).Set(expiryKey(r.lifetime, dir, name), []byte{}); err != nil {
		return err
	}
	attrs := t.attrs.In(txn)
	deadline := encodeDeadline(r.readDeadline())
	for _, a := range r.attrs {
		if err := attrs.Set(attrKey(dir, a.name, a.value, name), deadline); err != nil {
			return err
		}
	}
	return nil
}

// deleteEntries 删除记录的过期索引项与属性索引项，返回被删除的属性
//
// r 为 nil（主记录无法解码）时改为扫描两张索引表。
func (t tables) deleteEntries(txn *kv.Transaction, dir, name string, r *record) ([]attribute, error) {
	if r == nil {
		return t.dropOrphans(txn, dir, name)
	}
	if err := t.expiry.In(txn).Delete(expiryKey(r.lifetime, dir, name)); err != nil {
		return nil, err
	}
	attrs := t.attrs.In(txn)
	for _, a := range r.attrs {
		if err := attrs.Delete(attrKey(dir, a.name, a.value, name)); err != nil {
			return nil, err
		}
	}
	return r.attrs, nil
}

// dropOrphans 删除仍指向 (dir, name) 的全部索引项
//
// 过期表按截止时间排序，只能整表扫描；属性表只扫描 dir 之下。
// 调用方持有区域写锁，扫描看到的是事务开始前已提交的状态。
func (t tables) dropOrphans(txn *kv.Transaction, dir, name string) ([]attribute, error) {
	var stale [][]byte
	err := t.expiry.PrefixScan(nil, func(key, _ []byte) bool {
		if _, d, n, ok := parseExpiryKey(key); ok && d == dir && n == name {
			stale = append(stale, bytes.Clone(key))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	expiry := t.expiry.In(txn)
	for _, k := range stale {
		if err := expiry.Delete(k); err != nil {
			return nil, err
		}
	}

	stale = stale[:0]
	var removed []attribute
	err = t.attrs.PrefixScan(kv.Key(dir), func(key, _ []byte) bool {
		if _, a, v, n, ok := parseAttrKey(key); ok && n == name {
			stale = append(stale, bytes.Clone(key))
			removed = append(removed, attribute{name: a, value: v})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	attrs := t.attrs.In(txn)
	for _, k := range stale {
		if err := attrs.Delete(k); err != nil {
			return nil, err
		}
	}
	if len(removed) > 0 {
		logger.Warn("清理损坏记录的属性索引", "dir", dir, "name", name, "entries", len(removed))
	}
	return removed, nil
}

// ============= 读操作 =============

// load 读取主记录，优先命中记录缓存，调用方持有读锁或写锁
func (c *Cm) load(key []byte) (*record, error) {
	if r, ok := c.state.cached(string(key)); ok {
		return r, nil
	}
	raw, err := c.records.Get(key)
	if err != nil {
		return nil, err
	}
	return c.decode(key, raw)
}

func (c *Cm) decode(key, raw []byte) (*record, error) {
	if r, ok := c.state.cached(string(key)); ok {
		return r, nil
	}
	r, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	c.state.remember(string(key), r)
	return r, nil
}

func toCacheRecord(dir, name string, r *record, now int64) pkgif.CacheRecord {
	return pkgif.CacheRecord{
		Dir:        dir,
		Name:       name,
		Payload:    bytes.Clone(r.payload),
		Expiration: time.Duration(r.readDeadline() - now),
	}
}

// GetInputStream 返回记录负载
//
// 键不存在或已逻辑过期时返回 ErrNotFound，与 GC 是否运行无关。
func (c *Cm) GetInputStream(dir, name string) (io.ReadCloser, error) {
	if err := c.checkName("get", dir, name); err != nil {
		return nil, err
	}
	unlock, err := c.rlock("get")
	if err != nil {
		return nil, err
	}
	r, err := c.load(recordKey(dir, name))
	now := c.now()
	unlock()

	if err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, storeFault(engine.RuntimeIO, "get", err)
	}
	if !r.live(now) {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(r.payload))), nil
}

// GetRecords 返回目录内的存活记录，最多 threshold 条（NoThreshold 不限）
func (c *Cm) GetRecords(dir string, threshold int) ([]pkgif.CacheRecord, error) {
	if dir == "" {
		return nil, engine.Faultf(engine.ObjEmptyKey, "get records", "empty directory")
	}
	if threshold == 0 {
		return nil, nil
	}
	unlock, err := c.rlock("get records")
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := c.now()
	var (
		out     []pkgif.CacheRecord
		corrupt int
	)
	err = c.records.PrefixScan(kv.Key(dir), func(key, value []byte) bool {
		_, name, ok := parseRecordKey(key)
		if !ok {
			corrupt++
			return true
		}
		r, err := c.decode(key, value)
		if err != nil {
			corrupt++
			return true
		}
		if r.live(now) {
			out = append(out, toCacheRecord(dir, name, r, now))
		}
		return threshold < 0 || len(out) < threshold
	})
	if err != nil {
		return nil, storeFault(engine.RuntimeIO, "get records", err)
	}
	if corrupt > 0 {
		logger.Warn("目录中存在损坏的记录", "area", c.area, "dir", dir, "count", corrupt)
	}
	return out, nil
}

// Search 按属性搜索目录内的存活记录
//
// value 不含 '*' 时精确匹配；含一个 '*' 时先在属性值索引树上做通配符匹配，
// 再按属性值顺序取记录；含多个 '*' 时在访问存储之前返回 QryInvalidTerm 故障。
func (c *Cm) Search(dir, attr, value string, threshold int) ([]pkgif.CacheRecord, error) {
	wild := strings.Count(value, "*")
	if wild > 1 {
		return nil, engine.NewFault(engine.QryInvalidTerm, "search", fmt.Errorf("%w: %q", ErrInvalidTerm, value))
	}
	if threshold == 0 {
		return nil, nil
	}
	unlock, err := c.rlock("search")
	if err != nil {
		return nil, err
	}
	defer unlock()
	c.m.searches.Inc()

	values := []string{value}
	if wild == 1 {
		if values, err = c.state.matchValues(c.attrs, dir, attr, value); err != nil {
			return nil, storeFault(engine.IdxCorrupted, "search", err)
		}
	}

	now := c.now()
	var out []pkgif.CacheRecord
	for _, v := range values {
		var names []string
		err := c.attrs.PrefixScan(kv.Key(dir, attr, v), func(key, _ []byte) bool {
			if _, _, _, name, ok := parseAttrKey(key); ok {
				names = append(names, name)
			}
			return true
		})
		if err != nil {
			return nil, storeFault(engine.RuntimeIO, "search", err)
		}
		for _, name := range names {
			r, err := c.load(recordKey(dir, name))
			if err != nil {
				if engine.IsNotFound(err) {
					continue
				}
				return nil, storeFault(engine.RuntimeIO, "search", err)
			}
			if !r.live(now) {
				continue
			}
			out = append(out, toCacheRecord(dir, name, r, now))
			if threshold > 0 && len(out) >= threshold {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetLifetime 返回距 lifetime 截止的剩余时长
//
// 键不存在或已逻辑过期时返回 UnknownTTL。
func (c *Cm) GetLifetime(dir, name string) (time.Duration, error) {
	return c.remaining("get lifetime", dir, name, func(r *record) int64 { return r.lifetime })
}

// GetExpirationTime 返回距读取截止（expiration 与 lifetime 的较小者）的剩余时长
//
// 键不存在或已逻辑过期时返回 UnknownTTL。
func (c *Cm) GetExpirationTime(dir, name string) (time.Duration, error) {
	return c.remaining("get expiration", dir, name, (*record).readDeadline)
}

func (c *Cm) remaining(op, dir, name string, deadline func(*record) int64) (time.Duration, error) {
	if err := c.checkName(op, dir, name); err != nil {
		return pkgif.UnknownTTL, err
	}
	unlock, err := c.rlock(op)
	if err != nil {
		return pkgif.UnknownTTL, err
	}
	r, err := c.load(recordKey(dir, name))
	now := c.now()
	unlock()

	if err != nil {
		if engine.IsNotFound(err) {
			return pkgif.UnknownTTL, nil
		}
		return pkgif.UnknownTTL, storeFault(engine.RuntimeIO, op, err)
	}
	if !r.live(now) {
		return pkgif.UnknownTTL, nil
	}
	return time.Duration(deadline(r) - now), nil
}

// ============= 维护 =============

// Flush 把已提交的写入强制同步到稳定存储
func (c *Cm) Flush() error {
	if c.stopped.Load() {
		return ErrStopped
	}
	return storeFault(engine.RuntimeIO, "flush", c.h.Engine().Sync())
}

// Stats 区域统计
type Stats struct {
	// Area 区域名
	Area string

	// Records 区域内主记录数（含已逻辑过期、尚未回收的记录）
	Records int64

	// CachedRecords 记录缓存中的条目数
	CachedRecords int

	// Engine 底层引擎统计（整个存储根共享）
	Engine *engine.Stats
}

// Stats 返回区域与底层引擎的统计
func (c *Cm) Stats() (*Stats, error) {
	unlock, err := c.rlock("stats")
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := c.records.Count(nil)
	if err != nil {
		return nil, storeFault(engine.RuntimeIO, "stats", err)
	}
	return &Stats{
		Area:          c.area,
		Records:       n,
		CachedRecords: c.state.cacheLen(),
		Engine:        c.h.Engine().Stats(),
	}, nil
}

// Stop 释放对共享引擎的引用，多次调用是安全的
//
// 同一存储根上的最后一个实例停止时引擎被关闭。
func (c *Cm) Stop() error {
	if c == nil || c.stopped.Swap(true) {
		return nil
	}
	logger.Debug("关闭区域", "area", c.area)
	if err := c.h.Release(); err != nil && !errors.Is(err, engine.ErrClosed) {
		return err
	}
	return nil
}
