package btree

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/pkg/lib/log"
	"github.com/google/uuid"
)

// logger 是 B-tree 存储引擎的日志记录器
var logger = log.Logger("storage/btree")

// Engine 单文件页式 B-tree 存储引擎
type Engine struct {
	mu     sync.RWMutex
	f      *os.File
	path   string
	pager  *pager
	tree   *tree
	config *engine.Config
	closed atomic.Bool
	locked bool

	// 统计信息
	stats struct {
		numReads   atomic.Int64
		numWrites  atomic.Int64
		numDeletes atomic.Int64
	}
}

// New 打开数据目录下的页文件，不存在时创建
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	cfg = cfg.Clone()
	cfg.Backend = engine.BackendBTree

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	path := filepath.Join(cfg.Path, cfg.BTree.FileName)
	e, err := Open(path, cfg)
	if engine.IsNotExist(err) && !cfg.ReadOnly {
		return Create(path, cfg)
	}
	return e, err
}

// Open 打开已存在的页文件
//
// 文件不存在时返回 ColNotFound 故障（errors.Is(err, engine.ErrNotExist)），
// 调用方应改用 Create；文件损坏返回 DBCorrupted，版本不兼容返回 DBVersion。
func Open(path string, cfg *engine.Config) (*Engine, error) {
	flag := os.O_RDWR
	if cfg.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, engine.NewFault(engine.ColNotFound, "open", err)
		}
		return nil, engine.IOFault("open", err)
	}

	e, err := attach(f, path, cfg, nil)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	logger.Debug("打开页文件", "path", path, "pageSize", e.pager.pageSize, "records", e.pager.hdr.records)
	return e, nil
}

// Create 创建新的页文件
//
// 文件已存在时返回 ColDuplicate 故障（errors.Is(err, engine.ErrExist)）。
func Create(path string, cfg *engine.Config) (*Engine, error) {
	if cfg.ReadOnly {
		return nil, engine.Faultf(engine.ColReadOnly, "create", "cannot create %s in read-only mode", path)
	}
	if err := cfg.BTree.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, engine.NewFault(engine.ColDuplicate, "create", err)
		}
		return nil, engine.NewFault(engine.ColCannotCreate, "create", engine.IOFault("create", err))
	}

	hdr := fileHeader{
		version:   FormatVersion,
		pageSize:  uint32(cfg.BTree.PageSize),
		root:      1,
		pageCount: 2,
		id:        uuid.New(),
		height:    1,
	}
	e, err := attach(f, path, cfg, &hdr)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	logger.Info("创建页文件", "path", path, "pageSize", hdr.pageSize, "id", hdr.id.String())
	return e, nil
}

// attach 加锁、处理回滚日志并初始化 pager
//
// fresh 非空时写入新文件的文件头与空根叶子，并丢弃同名的旧日志。
// 已有文件若留有完整日志，可写打开时先恢复，只读打开返回 DBCorrupted。
func attach(f *os.File, path string, cfg *engine.Config, fresh *fileHeader) (e *Engine, err error) {
	locked := false
	if cfg.BTree.LockFile {
		if err := lockFile(f, cfg.ReadOnly); err != nil {
			return nil, err
		}
		locked = true
	}
	var j *journal
	defer func() {
		if err == nil {
			return
		}
		if j != nil {
			_ = j.close(fresh != nil)
		}
		if locked {
			_ = unlockFile(f)
		}
	}()

	jpath := path + journalSuffix
	if cfg.ReadOnly {
		hot, err := hotJournal(jpath)
		if err != nil {
			return nil, err
		}
		if hot {
			return nil, engine.Faultf(engine.DBCorrupted, "open", "%s has an unfinished commit; open read-write to recover", path)
		}
	} else {
		if j, err = openJournal(jpath, fresh != nil); err != nil {
			return nil, err
		}
		if fresh == nil {
			if _, err := j.recover(f); err != nil {
				return nil, err
			}
		}
	}

	var hdr fileHeader
	if fresh != nil {
		hdr = *fresh
	} else if hdr, err = readHeader(f); err != nil {
		return nil, err
	}

	p, err := newPager(f, j, hdr, cfg.BTree.NodeCacheSize)
	if err != nil {
		return nil, err
	}

	if fresh != nil {
		p.begin()
		p.dirty[hdr.root] = newLeaf(hdr.root)
		p.saved = fileHeader{} // 强制写文件头
		if err := p.commit(true); err != nil {
			return nil, err
		}
	}

	return &Engine{
		f:      f,
		path:   path,
		pager:  p,
		tree:   newTree(p),
		config: cfg,
		locked: locked,
	}, nil
}

// --- 公共接口实现 (interfaces.Engine) ---

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if err := engine.CheckKey("get", key); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}

	e.stats.numReads.Add(1)
	return e.tree.get(key)
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.Apply([]engine.Op{{Key: key, Value: value}})
}

// Delete 删除指定键，键不存在时不报错
func (e *Engine) Delete(key []byte) error {
	return e.Apply([]engine.Op{{Key: key, Delete: true}})
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	if err == nil {
		return true, nil
	}
	if engine.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Apply 在写锁内原子地应用一组写操作
//
// 任一操作失败时整组回滚，文件与缓存保持操作前的状态。
func (e *Engine) Apply(ops []engine.Op) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return engine.NewFault(engine.DBReadOnly, "write", engine.ErrReadOnly)
	}
	for _, op := range ops {
		if err := engine.CheckKey("write", op.Key); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return engine.ErrClosed
	}

	p := e.pager
	p.begin()
	var writes, deletes int64
	for _, op := range ops {
		if op.Delete {
			if _, err := e.tree.delete(op.Key); err != nil {
				p.rollback()
				return err
			}
			deletes++
			continue
		}
		if _, err := e.tree.put(op.Key, op.Value); err != nil {
			p.rollback()
			return err
		}
		writes++
	}
	if err := p.commit(e.config.SyncWrites); err != nil {
		logger.Warn("提交页失败", "path", e.path, "error", err)
		return err
	}
	e.stats.numWrites.Add(writes)
	e.stats.numDeletes.Add(deletes)
	return nil
}

// Close 刷盘并关闭页文件，多次调用是安全的
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if !e.config.ReadOnly {
		err = e.pager.sync()
	}
	if j := e.pager.jrnl; j != nil {
		// 复原失败时保留日志，下次打开时恢复
		err = errors.Join(err, j.close(e.pager.failed == nil))
	}
	if e.locked {
		err = errors.Join(err, unlockFile(e.f))
	}
	if cerr := e.f.Close(); cerr != nil {
		err = errors.Join(err, engine.IOFault("close", cerr))
	}
	e.pager.purge()
	return err
}

// --- 内部扩展接口实现 (engine.InternalEngine) ---

// NewBatch 创建新的批量写入对象
func (e *Engine) NewBatch() engine.Batch {
	return engine.NewBufferedBatch(e)
}

// Write 执行批量写入
func (e *Engine) Write(batch engine.Batch) error {
	bb, ok := batch.(*engine.BufferedBatch)
	if !ok {
		return engine.ErrInvalidConfig
	}
	return bb.Write()
}

// NewIterator 创建新的迭代器
func (e *Engine) NewIterator(opts *engine.IteratorOptions) engine.Iterator {
	return newIterator(e, opts)
}

// NewPrefixIterator 创建前缀迭代器
func (e *Engine) NewPrefixIterator(prefix []byte) engine.Iterator {
	return e.NewIterator(&engine.IteratorOptions{
		Prefix:         prefix,
		PrefetchSize:   100,
		PrefetchValues: true,
	})
}

// NewTransaction 创建新的事务
func (e *Engine) NewTransaction(writable bool) engine.Transaction {
	return engine.NewBufferedTxn(e, writable && !e.config.ReadOnly)
}

// Start 启动存储引擎
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

// Compact 页文件原地复用空闲页，不做整理
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

// Sync 同步数据到磁盘
func (e *Engine) Sync() error {
	return e.Flush()
}

// Flush 把所有已提交的页强制写入稳定存储
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pager.sync()
}

// Count 返回记录数
func (e *Engine) Count() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pager.hdr.records
}

// ID 返回页文件创建时生成的存储 ID
func (e *Engine) ID() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pager.hdr.id
}

// Path 返回页文件路径
func (e *Engine) Path() string {
	return e.path
}

// Verify 校验树结构，并核对记录数与叶子条目数是否一致
func (e *Engine) Verify() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, err := e.tree.check()
	if err != nil {
		return err
	}
	if n != e.pager.hdr.records {
		return engine.Faultf(engine.IdxCorrupted, "verify", "header counts %d records, leaves hold %d", e.pager.hdr.records, n)
	}
	return nil
}

// Stats 获取引擎统计信息
func (e *Engine) Stats() *engine.Stats {
	e.mu.RLock()
	hdr := e.pager.hdr
	e.mu.RUnlock()

	return &engine.Stats{
		KeyCount:    int64(hdr.records),
		DiskSize:    int64(hdr.pageCount) * int64(hdr.pageSize),
		CacheHits:   e.pager.hits.Load(),
		CacheMisses: e.pager.misses.Load(),
		NumWrites:   e.stats.numWrites.Load(),
		NumReads:    e.stats.numReads.Load(),
		NumDeletes:  e.stats.numDeletes.Load(),
		PageSize:    int(hdr.pageSize),
		PageCount:   int64(hdr.pageCount),
		FreePages:   int64(hdr.freeCount),
		Height:      int(hdr.height),
	}
}

// 编译时检查接口实现
var (
	_ engine.InternalEngine = (*Engine)(nil)
	_ engine.Applier        = (*Engine)(nil)
)
