package advcache

import (
	"sync"

	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	"github.com/dep2p/go-advcache/internal/util/lru"
	"github.com/dep2p/go-advcache/internal/util/tst"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
)

// indexKey 一棵属性值索引树的定位
type indexKey struct {
	dir  string
	attr string
}

// areaState 同一存储根下同一区域的共享状态
//
// 挂在注册表句柄上，同一区域的多个 Cm 实例共享，
// 因此锁、索引树和记录缓存对它们都是同一份。
//
// 锁顺序：mu → idxMu / cacheMu / deltaMu。
type areaState struct {
	// mu 写操作持写锁，读操作持读锁
	mu      sync.RWMutex
	dropped bool

	// indexes (dir, attr) → 属性值 → 引用该值的记录数，首次通配符搜索时构建
	idxMu   sync.Mutex
	indexes map[indexKey]*tst.Tree[int]

	cacheMu sync.Mutex
	cache   *lru.Cache[string, *record]

	deltaMu sync.Mutex
	deltas  map[string][]pkgif.IndexEntry
}

func sharedKey(area string) string {
	return "advcache/area/" + area
}

// attachState 取得区域共享状态，不存在时创建
func attachState(h *registry.Handle, area string, cacheSize int) *areaState {
	s := h.Shared(sharedKey(area), func() any {
		return &areaState{
			indexes: make(map[indexKey]*tst.Tree[int]),
			deltas:  make(map[string][]pkgif.IndexEntry),
		}
	}).(*areaState)
	s.ensureCache(cacheSize)
	return s
}

// ensureCache 第一个要求缓存的实例决定缓存容量
func (s *areaState) ensureCache(size int) {
	if size <= 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cache == nil {
		s.cache, _ = lru.New[string, *record](size)
	}
}

// reset 清空全部内存状态，调用方持有 mu 写锁
func (s *areaState) reset() {
	s.idxMu.Lock()
	clear(s.indexes)
	s.idxMu.Unlock()

	s.cacheMu.Lock()
	if s.cache != nil {
		s.cache.Clear()
	}
	s.cacheMu.Unlock()

	s.deltaMu.Lock()
	clear(s.deltas)
	s.deltaMu.Unlock()
}

// ============= 记录缓存 =============

func (s *areaState) cached(key string) (*record, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *areaState) remember(key string, r *record) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cache != nil {
		s.cache.Put(key, r)
	}
}

func (s *areaState) forget(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cache != nil {
		s.cache.Remove(key)
	}
}

// cacheLen 返回缓存中的记录数
func (s *areaState) cacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

// ============= 属性值索引 =============

// matchValues 返回 (dir, attr) 下匹配通配符 term 的属性值
//
// 调用方至少持有 mu 读锁，索引树不存在时扫描属性表 attrs 构建。
func (s *areaState) matchValues(attrs *kv.Store, dir, attr, term string) ([]string, error) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	k := indexKey{dir: dir, attr: attr}
	t, ok := s.indexes[k]
	if !ok {
		t = tst.New[int]()
		var bad int
		err := attrs.PrefixScan(kv.Key(dir, attr), func(key, _ []byte) bool {
			_, _, value, _, ok := parseAttrKey(key)
			switch {
			case !ok:
				bad++
				return true
			case value == "":
				return true
			}
			n, _ := t.Find(value)
			t.Put(value, n+1)
			return true
		})
		if err != nil {
			return nil, err
		}
		if bad > 0 {
			logger.Warn("属性索引中存在无法解析的键", "dir", dir, "attr", attr, "count", bad)
		}
		s.indexes[k] = t
	}
	return t.Search(term, tst.NoLimit)
}

// adjustIndexes 按一次写操作增删的属性值更新已构建的索引树，调用方持有 mu 写锁
func (s *areaState) adjustIndexes(dir string, removed, added []attribute) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	if len(s.indexes) == 0 {
		return
	}
	for _, a := range removed {
		t, ok := s.indexes[indexKey{dir: dir, attr: a.name}]
		if !ok || a.value == "" {
			continue
		}
		if n, found := t.Find(a.value); found {
			if n <= 1 {
				t.Remove(a.value)
			} else {
				t.Put(a.value, n-1)
			}
		}
	}
	for _, a := range added {
		t, ok := s.indexes[indexKey{dir: dir, attr: a.name}]
		if !ok || a.value == "" {
			continue
		}
		n, _ := t.Find(a.value)
		t.Put(a.value, n+1)
	}
}

// ============= 增量 =============

func (s *areaState) appendDeltas(dir string, entries []pkgif.IndexEntry, limit int) {
	if len(entries) == 0 {
		return
	}
	s.deltaMu.Lock()
	defer s.deltaMu.Unlock()

	d := append(s.deltas[dir], entries...)
	if limit > 0 && len(d) > limit {
		d = append([]pkgif.IndexEntry(nil), d[len(d)-limit:]...)
	}
	s.deltas[dir] = d
}

func (s *areaState) takeDeltas(dir string) []pkgif.IndexEntry {
	s.deltaMu.Lock()
	defer s.deltaMu.Unlock()

	d := s.deltas[dir]
	delete(s.deltas, dir)
	return d
}
