package btree

import (
	"encoding/binary"
	"errors"
	"os"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/spaolacci/murmur3"
)

// 回滚日志（<页文件>-journal）
//
//	[0:8)   magic "ADVJRNL\x00"
//	[8:12)  页大小
//	[12:16) 提交前的页总数
//	[16:20) 页数 n
//	n 个：页号 u32 | 整页旧内容（页号 0 为文件头）
//	末尾：murmur3 校验和 u32，覆盖之前的全部字节
//
// 日志为空或不完整都表示页文件没有未完成的提交。

const (
	journalSuffix     = "-journal"
	journalHeaderSize = 20
)

var journalMagic = [8]byte{'A', 'D', 'V', 'J', 'R', 'N', 'L', 0}

// journalPage 一页的旧内容
type journalPage struct {
	id   uint32
	data []byte
}

// journalImage 解析后的日志
type journalImage struct {
	pageSize  uint32
	pageCount uint32
	pages     []journalPage
}

type journal struct {
	f    *os.File
	path string
}

// openJournal 打开或创建日志文件，fresh 为 true 时清空旧内容
func openJournal(path string, fresh bool) (*journal, error) {
	flag := os.O_RDWR | os.O_CREATE
	if fresh {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, engine.IOFault("open journal", err)
	}
	return &journal{f: f, path: path}, nil
}

// record 写入一次提交的旧页
func (j *journal) record(pageSize, pageCount uint32, pages []journalPage, sync bool) error {
	buf := encodeJournal(pageSize, pageCount, pages)
	if _, err := j.f.WriteAt(buf, 0); err != nil {
		return engine.IOFault("write journal", err)
	}
	if err := j.f.Truncate(int64(len(buf))); err != nil {
		return engine.IOFault("write journal", err)
	}
	if sync {
		return engine.IOFault("sync journal", j.f.Sync())
	}
	return nil
}

// reset 清空日志，提交由此生效
func (j *journal) reset(sync bool) error {
	if err := j.f.Truncate(0); err != nil {
		return engine.IOFault("reset journal", err)
	}
	if sync {
		return engine.IOFault("sync journal", j.f.Sync())
	}
	return nil
}

// recover 日志完整时把旧页写回页文件并清空日志，返回是否做了恢复
func (j *journal) recover(f pageFile) (bool, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return false, engine.IOFault("read journal", err)
	}
	if len(data) == 0 {
		return false, nil
	}
	img, ok := decodeJournal(data)
	if !ok {
		logger.Warn("丢弃不完整的回滚日志", "path", j.path, "size", len(data))
		return false, j.reset(true)
	}
	if err := replayPages(f, int(img.pageSize), img.pageCount, img.pages); err != nil {
		return false, err
	}
	logger.Warn("已从回滚日志恢复页文件", "path", j.path, "pages", len(img.pages))
	return true, j.reset(true)
}

// close 关闭日志，remove 为 true 时删除文件
func (j *journal) close(remove bool) error {
	err := engine.IOFault("close journal", j.f.Close())
	if remove {
		if rerr := os.Remove(j.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = errors.Join(err, engine.IOFault("remove journal", rerr))
		}
	}
	return err
}

// hotJournal 报告 path 处是否有待恢复的完整日志
func hotJournal(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, engine.IOFault("read journal", err)
	}
	_, ok := decodeJournal(data)
	return ok, nil
}

// replayPages 写回旧页并把文件截断到提交前的长度
func replayPages(f pageFile, pageSize int, pageCount uint32, pages []journalPage) error {
	for _, pg := range pages {
		if _, err := f.WriteAt(pg.data, int64(pg.id)*int64(pageSize)); err != nil {
			return engine.IOFault("replay journal", err)
		}
	}
	if err := f.Truncate(int64(pageCount) * int64(pageSize)); err != nil {
		return engine.IOFault("replay journal", err)
	}
	return engine.IOFault("replay journal", f.Sync())
}

func encodeJournal(pageSize, pageCount uint32, pages []journalPage) []byte {
	buf := make([]byte, journalHeaderSize, journalHeaderSize+len(pages)*(4+int(pageSize))+4)
	copy(buf[0:8], journalMagic[:])
	binary.BigEndian.PutUint32(buf[8:12], pageSize)
	binary.BigEndian.PutUint32(buf[12:16], pageCount)
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(pages)))
	for _, pg := range pages {
		buf = binary.BigEndian.AppendUint32(buf, pg.id)
		buf = append(buf, pg.data...)
	}
	return binary.BigEndian.AppendUint32(buf, murmur3.Sum32(buf))
}

func decodeJournal(data []byte) (journalImage, bool) {
	var img journalImage
	if len(data) < journalHeaderSize+4 || [8]byte(data[0:8]) != journalMagic {
		return img, false
	}
	body := data[:len(data)-4]
	if murmur3.Sum32(body) != binary.BigEndian.Uint32(data[len(data)-4:]) {
		return img, false
	}
	img.pageSize = binary.BigEndian.Uint32(data[8:12])
	img.pageCount = binary.BigEndian.Uint32(data[12:16])
	n := int(binary.BigEndian.Uint32(data[16:20]))
	ps := int(img.pageSize)
	if ps < 1<<10 || ps > 64<<10 || ps&(ps-1) != 0 {
		return img, false
	}
	if len(body) != journalHeaderSize+n*(4+ps) {
		return img, false
	}
	off := journalHeaderSize
	img.pages = make([]journalPage, 0, n)
	for i := 0; i < n; i++ {
		id := binary.BigEndian.Uint32(body[off:])
		if id >= img.pageCount {
			return img, false
		}
		img.pages = append(img.pages, journalPage{id: id, data: body[off+4 : off+4+ps]})
		off += 4 + ps
	}
	return img, true
}
