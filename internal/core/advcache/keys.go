package advcache

import (
	"encoding/binary"

	"github.com/dep2p/go-advcache/internal/core/storage/kv"
)

// 区域内的表，每张表是区域 Store 的一个 SubStore
const (
	tableRecord = 'r' // r<dir><name>              → record
	tableExpiry = 'x' // x<lifetime><dir><name>    → 空
	tableAttr   = 'a' // a<dir><attr><value><name> → 8 字节读取截止时间
)

var (
	// areaRoot 全部区域数据的根前缀，区域前缀为 c/<area>
	areaRoot = []byte("c/")

	// catalogPrefix 区域目录前缀，条目为 m/a/<area>
	catalogPrefix = []byte("m/a/")
)

// tables 一个区域的三张表
type tables struct {
	records *kv.Store
	expiry  *kv.Store
	attrs   *kv.Store
}

func areaPrefix(area string) []byte {
	return kv.AppendKey(append([]byte(nil), areaRoot...), area)
}

func openTables(area *kv.Store) tables {
	return tables{
		records: area.SubStore([]byte{tableRecord}),
		expiry:  area.SubStore([]byte{tableExpiry}),
		attrs:   area.SubStore([]byte{tableAttr}),
	}
}

// 以下键都相对于各自的表

func recordKey(dir, name string) []byte {
	return kv.Key(dir, name)
}

func expiryKey(deadline int64, dir, name string) []byte {
	b := make([]byte, 0, 8+4+len(dir)+len(name))
	b = binary.BigEndian.AppendUint64(b, uint64(deadline))
	return kv.AppendKey(b, dir, name)
}

// expiryEnd lifetime 截止时间不晚于 now 的过期索引键都小于它
func expiryEnd(now int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(now)+1)
}

func attrKey(dir, attr, value, name string) []byte {
	return kv.Key(dir, attr, value, name)
}

func parseRecordKey(k []byte) (dir, name string, ok bool) {
	parts, ok := kv.SplitKey(k, 2)
	if !ok {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseExpiryKey(k []byte) (deadline int64, dir, name string, ok bool) {
	if len(k) < 8 {
		return 0, "", "", false
	}
	parts, ok := kv.SplitKey(k[8:], 2)
	if !ok {
		return 0, "", "", false
	}
	return int64(binary.BigEndian.Uint64(k)), parts[0], parts[1], true
}

func parseAttrKey(k []byte) (dir, attr, value, name string, ok bool) {
	parts, ok := kv.SplitKey(k, 4)
	if !ok {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

func encodeDeadline(d int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(d))
}

func decodeDeadline(b []byte) (int64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b)), true
}
