package kv

import (
	"encoding/binary"
	"math"
)

// MaxComponent 单个键分量的最大长度
const MaxComponent = math.MaxUint16

// 复合键
//
// 复合键由若干分量组成，每个分量编码为 2 字节大端长度加原始字节。
// 长度前缀保证分量边界唯一："ab" 组成的前缀不会覆盖 "abc" 下的键，
// 因此 Key(dir) 可以直接作为目录的前缀扫描范围。

// AppendKey 把 parts 依次编码追加到 dst
//
// 超过 MaxComponent 的分量由调用方先用 CheckKey 拒绝。
func AppendKey(dst []byte, parts ...string) []byte {
	for _, p := range parts {
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(p)))
		dst = append(dst, p...)
	}
	return dst
}

// Key 由 parts 组成新的复合键
func Key(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += 2 + len(p)
	}
	return AppendKey(make([]byte, 0, n), parts...)
}

// ReadComponent 读取一个分量，返回剩余字节
func ReadComponent(b []byte) (string, []byte, bool) {
	if len(b) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, false
	}
	return string(b[:n]), b[n:], true
}

// SplitKey 把 key 拆成恰好 n 个分量，有多余或缺少字节时返回 false
func SplitKey(key []byte, n int) ([]string, bool) {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var (
			p  string
			ok bool
		)
		if p, key, ok = ReadComponent(key); !ok {
			return nil, false
		}
		parts = append(parts, p)
	}
	return parts, len(key) == 0
}
