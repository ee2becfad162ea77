package btree

import (
	"errors"
	"io"
	"slices"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	lru "github.com/hashicorp/golang-lru/v2"
)

// pageFile 页文件需要的操作，*os.File 满足
type pageFile interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Truncate(size int64) error
}

// pager 管理页文件与节点缓存
//
// 一次写操作期间修改的节点与页都暂存在 dirty / raw 中，
// commit 时统一落盘并更新缓存；rollback 丢弃暂存并恢复文件头。
// 读者（持引擎读锁）只会看到已提交的缓存与磁盘内容。
//
// 原地覆盖页之前，commit 先把这些页的旧内容写入回滚日志；
// 写入中途失败时用旧内容复原，复原也失败时 pager 进入 failed 状态，
// 之后的读写都返回该故障，重新打开时由日志恢复。
type pager struct {
	f        pageFile
	jrnl     *journal // 只读时为 nil
	pageSize int
	inline   int
	hdr      fileHeader
	saved    fileHeader
	failed   error

	cache *lru.Cache[uint32, *node] // 为 nil 时不缓存
	dirty map[uint32]*node
	raw   map[uint32][]byte // 溢出页 / 空闲页

	hits   atomic.Int64
	misses atomic.Int64
}

func newPager(f pageFile, j *journal, hdr fileHeader, cacheSize int) (*pager, error) {
	p := &pager{
		f:        f,
		jrnl:     j,
		pageSize: int(hdr.pageSize),
		inline:   inlineKeyLimit(int(hdr.pageSize)),
		hdr:      hdr,
		dirty:    make(map[uint32]*node),
		raw:      make(map[uint32][]byte),
	}
	if cacheSize > 0 {
		c, err := lru.New[uint32, *node](cacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = c
	}
	return p, nil
}

// readHeader 读取文件头
func readHeader(f io.ReaderAt) (fileHeader, error) {
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fileHeader{}, engine.Faultf(engine.DBCorrupted, "read header", "file too short")
		}
		return fileHeader{}, engine.IOFault("read header", err)
	}
	return decodeHeader(buf)
}

// readPage 从磁盘读取并校验一页
func (p *pager) readPage(id uint32) ([]byte, error) {
	if id == 0 || id >= p.hdr.pageCount {
		return nil, engine.Faultf(engine.DBCorrupted, "read page", "page %d out of range (count %d)", id, p.hdr.pageCount)
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.f.ReadAt(buf, int64(id)*int64(p.pageSize)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, engine.Faultf(engine.DBCorrupted, "read page", "page %d beyond end of file", id)
		}
		return nil, engine.IOFault("read page", err)
	}
	if err := verifyPage(id, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// node 读取节点：暂存 > 缓存 > 磁盘
func (p *pager) node(id uint32) (*node, error) {
	if p.failed != nil {
		return nil, p.failed
	}
	if n, ok := p.dirty[id]; ok {
		return n, nil
	}
	if p.cache != nil {
		if n, ok := p.cache.Get(id); ok {
			p.hits.Add(1)
			return n, nil
		}
	}
	p.misses.Add(1)

	buf, err := p.readPage(id)
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(id, buf, p.readOverflow)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Add(id, n)
	}
	return n, nil
}

// mutable 返回节点的可写副本并登记为脏
func (p *pager) mutable(n *node) *node {
	if d, ok := p.dirty[n.id]; ok && d == n {
		return n
	}
	c := n.clone()
	p.dirty[c.id] = c
	return c
}

// rawPage 读取非节点页：暂存 > 磁盘
func (p *pager) rawPage(id uint32) ([]byte, error) {
	if buf, ok := p.raw[id]; ok {
		return buf, nil
	}
	return p.readPage(id)
}

// alloc 分配一页，优先复用空闲链表
func (p *pager) alloc() (uint32, error) {
	if id := p.hdr.freeHead; id != 0 {
		buf, err := p.rawPage(id)
		if err != nil {
			return 0, err
		}
		if pageTypeOf(buf) != pageFree {
			return 0, engine.Faultf(engine.DBCorrupted, "alloc", "free list page %d has type %s", id, pageTypeOf(buf))
		}
		p.hdr.freeHead = pageNext(buf)
		p.hdr.freeCount--
		delete(p.raw, id)
		return id, nil
	}
	if p.hdr.pageCount == ^uint32(0) {
		return 0, engine.Faultf(engine.RuntimeNoSpace, "alloc", "page id space exhausted")
	}
	id := p.hdr.pageCount
	p.hdr.pageCount++
	return id, nil
}

// newNode 分配页并创建空节点
func (p *pager) newNode(leaf bool) (*node, error) {
	id, err := p.alloc()
	if err != nil {
		return nil, err
	}
	n := &node{id: id, leaf: leaf}
	p.dirty[id] = n
	return n, nil
}

// free 把页放回空闲链表
func (p *pager) free(id uint32) {
	delete(p.dirty, id)
	buf := make([]byte, p.pageSize)
	setPageHeader(buf, pageFree, 0, p.hdr.freeHead, 0)
	p.raw[id] = buf
	p.hdr.freeHead = id
	p.hdr.freeCount++
}

// freeNode 释放节点页及其长键溢出链
func (p *pager) freeNode(n *node) error {
	for _, first := range n.spilled {
		if err := p.freeOverflow(first); err != nil {
			return err
		}
	}
	p.free(n.id)
	return nil
}

// ============= 溢出链 =============

func (p *pager) overflowCapacity() int {
	return p.pageSize - pageHeaderSize
}

// writeOverflow 把值或长键写入新分配的溢出链，返回首页页号
func (p *pager) writeOverflow(val []byte) (uint32, error) {
	chunk := p.overflowCapacity()
	n := (len(val) + chunk - 1) / chunk
	ids := make([]uint32, n)
	for i := range ids {
		id, err := p.alloc()
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}
	for i, id := range ids {
		part := val[i*chunk : min((i+1)*chunk, len(val))]
		var next uint32
		if i+1 < n {
			next = ids[i+1]
		}
		buf := make([]byte, p.pageSize)
		copy(buf[pageHeaderSize:], part)
		setPageHeader(buf, pageOverflow, 0, next, len(part))
		p.raw[id] = buf
	}
	return ids[0], nil
}

// readOverflow 沿溢出链重组值
func (p *pager) readOverflow(first, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	id := first
	for steps := uint32(0); uint32(len(out)) < length; steps++ {
		if id == 0 || steps > p.hdr.pageCount {
			return nil, engine.Faultf(engine.DBCorrupted, "read overflow", "broken chain from page %d", first)
		}
		buf, err := p.rawPage(id)
		if err != nil {
			return nil, err
		}
		if pageTypeOf(buf) != pageOverflow {
			return nil, engine.Faultf(engine.DBCorrupted, "read overflow", "page %d has type %s", id, pageTypeOf(buf))
		}
		used := pageUsed(buf)
		if used > p.overflowCapacity() {
			return nil, engine.Faultf(engine.DBCorrupted, "read overflow", "page %d used size %d", id, used)
		}
		out = append(out, buf[pageHeaderSize:pageHeaderSize+used]...)
		id = pageNext(buf)
	}
	if uint32(len(out)) != length {
		return nil, engine.Faultf(engine.DBCorrupted, "read overflow", "chain from page %d has %d bytes, want %d", first, len(out), length)
	}
	return out, nil
}

// freeOverflow 释放整条溢出链
func (p *pager) freeOverflow(first uint32) error {
	id := first
	for steps := uint32(0); id != 0; steps++ {
		if steps > p.hdr.pageCount {
			return engine.Faultf(engine.DBCorrupted, "free overflow", "cycle in chain from page %d", first)
		}
		buf, err := p.rawPage(id)
		if err != nil {
			return err
		}
		next := pageNext(buf)
		p.free(id)
		id = next
	}
	return nil
}

// value 返回叶子值的独立副本
func (p *pager) value(v leafVal) ([]byte, error) {
	if v.isOverflow() {
		return p.readOverflow(v.overflow, v.length)
	}
	out := make([]byte, len(v.inline))
	copy(out, v.inline)
	return out, nil
}

// ============= 写操作边界 =============

func (p *pager) begin() {
	p.saved = p.hdr
}

func (p *pager) rollback() {
	p.hdr = p.saved
	clear(p.dirty)
	clear(p.raw)
}

// spill 为脏节点的长键重写溢出链
//
// 节点的 spilled 是其旧页引用的链，先全部释放，再按当前的键顺序重新写入。
func (p *pager) spill() error {
	for _, n := range p.dirty {
		for _, first := range n.spilled {
			if err := p.freeOverflow(first); err != nil {
				return err
			}
		}
		n.spilled = nil
	}
	for _, n := range p.dirty {
		for _, k := range n.keys {
			if len(k) <= p.inline {
				continue
			}
			first, err := p.writeOverflow(k)
			if err != nil {
				return err
			}
			n.spilled = append(n.spilled, first)
		}
	}
	return nil
}

// commit 把暂存的页与文件头写入文件
//
// 顺序：长键溢出链 -> 旧页写入日志 -> 数据页 -> 文件头 -> 清空日志。
// 任何一步失败都回到操作前的状态并返回错误。
func (p *pager) commit(sync bool) error {
	if p.failed != nil {
		return p.failed
	}
	if len(p.dirty) == 0 && len(p.raw) == 0 && p.hdr == p.saved {
		return nil
	}
	if err := p.spill(); err != nil {
		p.rollback()
		return err
	}

	var before []journalPage
	if p.jrnl != nil && p.saved.pageCount > 0 {
		var err error
		if before, err = p.beforeImages(); err != nil {
			p.rollback()
			return err
		}
		if err := p.jrnl.record(uint32(p.pageSize), p.saved.pageCount, before, sync); err != nil {
			p.rollback()
			return err
		}
	}

	err := p.writeAll(sync)
	if err == nil && before != nil {
		err = p.jrnl.reset(sync)
	}
	if err != nil {
		if before != nil {
			p.restore(before)
		}
		p.rollback()
		p.purge()
		return err
	}

	if p.cache != nil {
		for id, n := range p.dirty {
			p.cache.Add(id, n)
		}
		for id := range p.raw {
			p.cache.Remove(id)
		}
	}
	clear(p.dirty)
	clear(p.raw)
	p.saved = p.hdr
	return nil
}

// beforeImages 读取本次提交将覆盖的已有页（含文件头）的磁盘内容
func (p *pager) beforeImages() ([]journalPage, error) {
	ids := []uint32{0}
	for id := range p.dirty {
		if id < p.saved.pageCount {
			ids = append(ids, id)
		}
	}
	for id := range p.raw {
		if id < p.saved.pageCount {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	out := make([]journalPage, 0, len(ids))
	for _, id := range ids {
		buf := make([]byte, p.pageSize)
		if _, err := p.f.ReadAt(buf, int64(id)*int64(p.pageSize)); err != nil {
			return nil, engine.IOFault("read before-image", err)
		}
		out = append(out, journalPage{id: id, data: buf})
	}
	return out, nil
}

// restore 写入失败后用旧页复原文件
func (p *pager) restore(before []journalPage) {
	if err := replayPages(p.f, p.pageSize, p.saved.pageCount, before); err != nil {
		p.failed = engine.Faultf(engine.DBCorrupted, "commit",
			"restore after failed write: %v; reopen to recover from journal", err)
		logger.Error("复原页文件失败，需要重新打开", "error", err)
		return
	}
	if err := p.jrnl.reset(false); err != nil {
		logger.Warn("清空回滚日志失败", "error", err)
	}
}

func (p *pager) writeAll(sync bool) error {
	buf := make([]byte, p.pageSize)
	for id, n := range p.dirty {
		n.encode(buf, p.inline)
		sealPage(buf)
		if err := p.writePage(id, buf); err != nil {
			return err
		}
	}
	for id, page := range p.raw {
		sealPage(page)
		if err := p.writePage(id, page); err != nil {
			return err
		}
	}
	if err := p.writeHeader(); err != nil {
		return err
	}
	if sync {
		return p.sync()
	}
	return nil
}

func (p *pager) writePage(id uint32, buf []byte) error {
	_, err := p.f.WriteAt(buf, int64(id)*int64(p.pageSize))
	return engine.IOFault("write page", err)
}

func (p *pager) writeHeader() error {
	buf := make([]byte, p.pageSize)
	p.hdr.encode(buf[:headerSize])
	_, err := p.f.WriteAt(buf, 0)
	return engine.IOFault("write header", err)
}

func (p *pager) sync() error {
	return engine.IOFault("sync", p.f.Sync())
}

// purge 清空节点缓存
func (p *pager) purge() {
	if p.cache != nil {
		p.cache.Purge()
	}
}
