package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// 页文件格式
//
//	页 0：文件头
//	  [0:8)   magic "ADVBTRE\x00"
//	  [8:10)  版本号
//	  [12:16) 页大小
//	  [16:20) 根页号
//	  [20:24) 空闲链表头
//	  [24:28) 页总数
//	  [28:32) 空闲页数
//	  [32:40) 记录数
//	  [40:56) 存储 ID（UUID）
//	  [56:58) 树高
//	  [60:64) 校验和
//
//	其余页：16 字节页头 + 页体
//	  [0]     页类型
//	  [2:4)   条目数
//	  [4:8)   next（叶子右兄弟 / 溢出链下一页 / 空闲链下一页）
//	  [8:12)  校验和
//	  [12:16) 页体已用字节数（溢出页）

const (
	// FormatVersion 当前页文件格式版本
	FormatVersion uint16 = 1

	headerSize     = 64
	pageHeaderSize = 16

	offChecksum = 8
)

var fileMagic = [8]byte{'A', 'D', 'V', 'B', 'T', 'R', 'E', 0}

// pageType 页类型
type pageType uint8

const (
	pageLeaf     pageType = 1
	pageInternal pageType = 2
	pageOverflow pageType = 3
	pageFree     pageType = 4
)

func (t pageType) String() string {
	switch t {
	case pageLeaf:
		return "leaf"
	case pageInternal:
		return "internal"
	case pageOverflow:
		return "overflow"
	case pageFree:
		return "free"
	default:
		return fmt.Sprintf("page(%d)", uint8(t))
	}
}

// fileHeader 文件头（页 0）
type fileHeader struct {
	version   uint16
	pageSize  uint32
	root      uint32
	freeHead  uint32
	pageCount uint32
	freeCount uint32
	records   uint64
	id        uuid.UUID
	height    uint16
}

func (h *fileHeader) encode(buf []byte) {
	clear(buf)
	copy(buf[0:8], fileMagic[:])
	binary.BigEndian.PutUint16(buf[8:10], h.version)
	binary.BigEndian.PutUint32(buf[12:16], h.pageSize)
	binary.BigEndian.PutUint32(buf[16:20], h.root)
	binary.BigEndian.PutUint32(buf[20:24], h.freeHead)
	binary.BigEndian.PutUint32(buf[24:28], h.pageCount)
	binary.BigEndian.PutUint32(buf[28:32], h.freeCount)
	binary.BigEndian.PutUint64(buf[32:40], h.records)
	copy(buf[40:56], h.id[:])
	binary.BigEndian.PutUint16(buf[56:58], h.height)
	binary.BigEndian.PutUint32(buf[60:64], murmur3.Sum32(buf[:60]))
}

// decodeHeader 解析文件头
//
// magic 不匹配或校验失败返回 DBCorrupted，版本未知返回 DBVersion。
func decodeHeader(buf []byte) (fileHeader, error) {
	var h fileHeader
	if len(buf) < headerSize {
		return h, engine.Faultf(engine.DBCorrupted, "read header", "short header (%d bytes)", len(buf))
	}
	if [8]byte(buf[0:8]) != fileMagic {
		return h, engine.Faultf(engine.DBCorrupted, "read header", "bad magic %q", buf[0:8])
	}
	if sum := murmur3.Sum32(buf[:60]); sum != binary.BigEndian.Uint32(buf[60:64]) {
		return h, engine.Faultf(engine.DBCorrupted, "read header", "header checksum mismatch")
	}
	h.version = binary.BigEndian.Uint16(buf[8:10])
	if h.version != FormatVersion {
		return h, engine.Faultf(engine.DBVersion, "read header", "format version %d, want %d", h.version, FormatVersion)
	}
	h.pageSize = binary.BigEndian.Uint32(buf[12:16])
	h.root = binary.BigEndian.Uint32(buf[16:20])
	h.freeHead = binary.BigEndian.Uint32(buf[20:24])
	h.pageCount = binary.BigEndian.Uint32(buf[24:28])
	h.freeCount = binary.BigEndian.Uint32(buf[28:32])
	h.records = binary.BigEndian.Uint64(buf[32:40])
	copy(h.id[:], buf[40:56])
	h.height = binary.BigEndian.Uint16(buf[56:58])

	if h.pageSize < 1<<10 || h.pageSize > 64<<10 || h.pageSize&(h.pageSize-1) != 0 {
		return h, engine.Faultf(engine.DBCorrupted, "read header", "bad page size %d", h.pageSize)
	}
	if h.root == 0 || h.root >= h.pageCount {
		return h, engine.Faultf(engine.DBCorrupted, "read header", "root page %d out of range", h.root)
	}
	return h, nil
}

// ============= 页头 =============

func pageTypeOf(buf []byte) pageType {
	return pageType(buf[0])
}

func setPageHeader(buf []byte, t pageType, count int, next uint32, used int) {
	buf[0] = byte(t)
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(count))
	binary.BigEndian.PutUint32(buf[4:8], next)
	binary.BigEndian.PutUint32(buf[12:16], uint32(used))
}

func pageCount(buf []byte) int {
	return int(binary.BigEndian.Uint16(buf[2:4]))
}

func pageNext(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[4:8])
}

func pageUsed(buf []byte) int {
	return int(binary.BigEndian.Uint32(buf[12:16]))
}

// sealPage 写入页校验和
func sealPage(buf []byte) {
	binary.BigEndian.PutUint32(buf[offChecksum:offChecksum+4], 0)
	binary.BigEndian.PutUint32(buf[offChecksum:offChecksum+4], murmur3.Sum32(buf))
}

// verifyPage 校验页校验和
func verifyPage(id uint32, buf []byte) error {
	stored := binary.BigEndian.Uint32(buf[offChecksum : offChecksum+4])
	binary.BigEndian.PutUint32(buf[offChecksum:offChecksum+4], 0)
	sum := murmur3.Sum32(buf)
	binary.BigEndian.PutUint32(buf[offChecksum:offChecksum+4], stored)
	if sum != stored {
		return engine.Faultf(engine.DBCorrupted, "read page", "page %d checksum mismatch", id)
	}
	return nil
}
