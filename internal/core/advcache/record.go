package advcache

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
)

// recordVersion 记录编码版本
const recordVersion = 1

const flagAdvertisement = 1 << 0

// attribute 一条属性索引
type attribute struct {
	name  string
	value string
}

// record 主记录
//
// lifetime 与 expiration 是保存时换算出的绝对时间（Unix 纳秒）。
type record struct {
	advertisement bool
	lifetime      int64
	expiration    int64
	attrs         []attribute
	payload       []byte
}

// readDeadline 读取截止时间，取 expiration 与 lifetime 的较小者
func (r *record) readDeadline() int64 {
	return min(r.expiration, r.lifetime)
}

// live 记录在 now 时刻是否对读取可见
func (r *record) live(now int64) bool {
	return now < r.readDeadline()
}

// absDeadline 把相对时长换算为绝对时间，溢出时饱和
func absDeadline(now int64, d time.Duration) int64 {
	if d <= 0 {
		return max(now+int64(d), 0)
	}
	if now > math.MaxInt64-int64(d) {
		return math.MaxInt64
	}
	return now + int64(d)
}

// sortedAttrs 把属性表按名称排序
func sortedAttrs(attrs map[string]string) []attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, attribute{name: k, value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// encode 编码格式：
//
//	version(1) | flags(1) | lifetime(8) | expiration(8) | nattrs(uvarint)
//	| { lp(name) lp(value) } * nattrs | payload
func (r *record) encode() []byte {
	size := 18 + binary.MaxVarintLen64 + len(r.payload)
	for _, a := range r.attrs {
		size += 4 + len(a.name) + len(a.value)
	}
	b := make([]byte, 0, size)
	var flags byte
	if r.advertisement {
		flags |= flagAdvertisement
	}
	b = append(b, recordVersion, flags)
	b = binary.BigEndian.AppendUint64(b, uint64(r.lifetime))
	b = binary.BigEndian.AppendUint64(b, uint64(r.expiration))
	b = binary.AppendUvarint(b, uint64(len(r.attrs)))
	for _, a := range r.attrs {
		b = kv.AppendKey(b, a.name, a.value)
	}
	return append(b, r.payload...)
}

func decodeRecord(b []byte) (*record, error) {
	if len(b) < 18 {
		return nil, engine.Faultf(engine.ObjInvalidFormat, "decode record", "short record: %d bytes", len(b))
	}
	if b[0] != recordVersion {
		return nil, engine.Faultf(engine.ObjInvalidFormat, "decode record", "unknown record version %d", b[0])
	}
	r := &record{
		advertisement: b[1]&flagAdvertisement != 0,
		lifetime:      int64(binary.BigEndian.Uint64(b[2:10])),
		expiration:    int64(binary.BigEndian.Uint64(b[10:18])),
	}
	rest := b[18:]
	n, sz := binary.Uvarint(rest)
	if sz <= 0 || n > uint64(len(rest)) {
		return nil, engine.Faultf(engine.ObjInvalidFormat, "decode record", "bad attribute count")
	}
	rest = rest[sz:]
	if n > 0 {
		r.attrs = make([]attribute, 0, n)
	}
	for i := uint64(0); i < n; i++ {
		var a attribute
		var ok bool
		if a.name, rest, ok = kv.ReadComponent(rest); !ok {
			return nil, engine.Faultf(engine.ObjInvalidFormat, "decode record", "truncated attribute %d", i)
		}
		if a.value, rest, ok = kv.ReadComponent(rest); !ok {
			return nil, engine.Faultf(engine.ObjInvalidFormat, "decode record", "truncated attribute %d", i)
		}
		r.attrs = append(r.attrs, a)
	}
	r.payload = append([]byte(nil), rest...)
	return r, nil
}
