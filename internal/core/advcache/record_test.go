package advcache

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys_Parse(t *testing.T) {
	dir, name, ok := parseRecordKey(recordKey("Peers", "p1"))
	require.True(t, ok)
	assert.Equal(t, "Peers", dir)
	assert.Equal(t, "p1", name)

	deadline, dir, name, ok := parseExpiryKey(expiryKey(42, "Groups", "g"))
	require.True(t, ok)
	assert.Equal(t, int64(42), deadline)
	assert.Equal(t, "Groups", dir)
	assert.Equal(t, "g", name)

	dir, attr, value, name, ok := parseAttrKey(attrKey("Peers", "Name", "Mike", "p1"))
	require.True(t, ok)
	assert.Equal(t, []string{"Peers", "Name", "Mike", "p1"}, []string{dir, attr, value, name})

	_, _, ok = parseRecordKey(append(recordKey("Peers", "p1"), 'z'))
	assert.False(t, ok, "多余字节")
	_, _, _, ok = parseExpiryKey([]byte{0, 0, 0})
	assert.False(t, ok)
	_, _, _, _, ok = parseAttrKey(kv.Key("Peers", "Name"))
	assert.False(t, ok, "截断的键")
}

func TestKeys_ValuePrefixUnambiguous(t *testing.T) {
	assert.False(t, bytes.HasPrefix(attrKey("Peers", "Name", "xy", "p"), kv.Key("Peers", "Name", "x")))
	assert.True(t, bytes.HasPrefix(attrKey("Peers", "Name", "x", "p"), kv.Key("Peers", "Name", "x")))
	assert.False(t, bytes.HasPrefix(areaPrefix("group-10"), areaPrefix("group-1")))
}

func TestKeys_ExpiryOrder(t *testing.T) {
	early := expiryKey(100, "Zeta", "z")
	late := expiryKey(1<<40, "Alpha", "a")
	assert.Negative(t, bytes.Compare(early, late), "按截止时间排序")

	end := expiryEnd(100)
	assert.Negative(t, bytes.Compare(early, end), "截止时间等于 now 的键在范围内")
	assert.True(t, bytes.Compare(expiryKey(101, "A", "a"), end) >= 0)
}

func TestKeys_Deadline(t *testing.T) {
	d, ok := decodeDeadline(encodeDeadline(123456789))
	require.True(t, ok)
	assert.Equal(t, int64(123456789), d)

	_, ok = decodeDeadline([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestRecord_EncodeDecode(t *testing.T) {
	in := &record{
		advertisement: true,
		lifetime:      2000,
		expiration:    1000,
		attrs:         sortedAttrs(map[string]string{"PID": "1", "Name": "Mike"}),
		payload:       []byte("<adv/>"),
	}
	out, err := decodeRecord(in.encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "Name", out.attrs[0].name)
	assert.Equal(t, int64(1000), out.readDeadline())
	assert.True(t, out.live(999))
	assert.False(t, out.live(1000))

	plain := &record{lifetime: 5, expiration: 5}
	out, err = decodeRecord(plain.encode())
	require.NoError(t, err)
	assert.False(t, out.advertisement)
	assert.Empty(t, out.attrs)
	assert.Empty(t, out.payload)
}

func TestRecord_DecodeInvalid(t *testing.T) {
	valid := (&record{lifetime: 1, expiration: 1, attrs: []attribute{{"a", "b"}}}).encode()

	cases := map[string][]byte{
		"short":     valid[:10],
		"version":   append([]byte{9}, valid[1:]...),
		"count":     append(append([]byte{}, valid[:18]...), 0x7f),
		"truncated": valid[:len(valid)-1],
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeRecord(b)
			require.Error(t, err)
			assert.Equal(t, engine.ObjInvalidFormat, engine.CodeOf(err))
		})
	}
}

func TestRecord_AbsDeadline(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixNano()

	assert.Equal(t, now+int64(time.Minute), absDeadline(now, time.Minute))
	assert.Equal(t, now, absDeadline(now, 0))
	assert.Equal(t, now-int64(time.Second), absDeadline(now, -time.Second))
	assert.Equal(t, int64(math.MaxInt64), absDeadline(now, time.Duration(math.MaxInt64)), "溢出时饱和")
	assert.Equal(t, int64(0), absDeadline(10, -time.Hour), "下限为 0")
}
