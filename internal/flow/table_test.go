package flow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(i int) Key {
	return Key{
		SrcIP:   netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}),
		DstIP:   netip.AddrFrom4([4]byte{10, 1, 0, 1}),
		SrcPort: uint16(700 + i),
		DstPort: 2049,
	}
}

func TestTableLookupInsertRemove(t *testing.T) {
	tbl := NewTable[string](1024)
	k := testKey(1)

	_, bucket, ok := tbl.Lookup(k)
	require.False(t, ok)
	tbl.Insert(bucket, k, "call")
	tbl.Insert(tbl.Bucket(k.Reverse()), k.Reverse(), "reply")

	v, _, ok := tbl.Lookup(k)
	require.True(t, ok)
	assert.Equal(t, "call", v)
	v, _, ok = tbl.Lookup(k.Reverse())
	require.True(t, ok)
	assert.Equal(t, "reply", v)
	assert.Equal(t, 2, tbl.Len())

	assert.True(t, tbl.Remove(bucket, k))
	_, _, ok = tbl.Lookup(k)
	assert.False(t, ok)
	_, _, ok = tbl.Lookup(k.Reverse())
	assert.True(t, ok, "remove must unlink only the named flow")
	assert.False(t, tbl.Remove(bucket, k))
	assert.Equal(t, 1, tbl.Len())
}

func TestTableDirectionsShareBucket(t *testing.T) {
	tbl := NewTable[int](DefaultBuckets)
	for i := 0; i < 100; i++ {
		k := testKey(i)
		assert.Equal(t, tbl.Bucket(k), tbl.Bucket(k.Reverse()))
	}
}

func TestTableStats(t *testing.T) {
	tbl := NewTable[int](16)
	for i := 0; i < 64; i++ {
		k := testKey(i)
		tbl.Insert(tbl.Bucket(k), k, i)
	}
	s := tbl.Stats()
	assert.Equal(t, 64, s.Flows)
	assert.GreaterOrEqual(t, s.MaxPerBucket, 4)
	assert.Len(t, tbl.All(), 64)

	sum := 0
	for b := 0; b < tbl.NumBuckets(); b++ {
		sum += len(tbl.BucketValues(b))
	}
	assert.Equal(t, 64, sum)
}

func TestTableRoundsToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1024, NewTable[int](1000).NumBuckets())
	assert.Equal(t, DefaultBuckets, NewTable[int](0).NumBuckets())
}
