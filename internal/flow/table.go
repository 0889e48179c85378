package flow

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// DefaultBuckets is the default flow table size.
const DefaultBuckets = 65536

type entry[V any] struct {
	key  Key
	val  V
	next *entry[V]
}

// Table maps flow keys to values with a fixed number of chained buckets.
// Both directions of a connection hash to the same bucket.
//
// A Table is not safe for concurrent use.
type Table[V any] struct {
	buckets []*entry[V]
	counts  []int
	mask    uint64
	size    int
}

// TableStats describes how flows spread over the buckets.
type TableStats struct {
	Flows        int
	MaxPerBucket int
	EmptyBuckets int
	StdDev       float64
}

// NewTable creates a table with n buckets, rounded up to a power of two.
func NewTable[V any](n int) *Table[V] {
	if n <= 0 {
		n = DefaultBuckets
	}
	if n&(n-1) != 0 {
		n = 1 << bits.Len(uint(n))
	}
	return &Table[V]{
		buckets: make([]*entry[V], n),
		counts:  make([]int, n),
		mask:    uint64(n - 1),
	}
}

// Bucket returns the bucket index of k.
func (t *Table[V]) Bucket(k Key) int {
	c := k.Canonical()
	return int(xxhash.Sum64(c[:]) & t.mask)
}

// Lookup returns the value stored for k and the bucket k maps to.
// A miss is a normal outcome meaning the flow is new.
func (t *Table[V]) Lookup(k Key) (v V, bucket int, ok bool) {
	bucket = t.Bucket(k)
	for e := t.buckets[bucket]; e != nil; e = e.next {
		if e.key == k {
			return e.val, bucket, true
		}
	}
	return v, bucket, false
}

// Insert prepends k to the bucket chain.
func (t *Table[V]) Insert(bucket int, k Key, v V) {
	t.buckets[bucket] = &entry[V]{key: k, val: v, next: t.buckets[bucket]}
	t.counts[bucket]++
	t.size++
}

// Remove unlinks k from the bucket chain.
func (t *Table[V]) Remove(bucket int, k Key) bool {
	for pp := &t.buckets[bucket]; *pp != nil; pp = &(*pp).next {
		if (*pp).key == k {
			*pp = (*pp).next
			t.counts[bucket]--
			t.size--
			return true
		}
	}
	return false
}

// BucketValues returns a snapshot of the values chained in bucket.
func (t *Table[V]) BucketValues(bucket int) []V {
	var out []V
	for e := t.buckets[bucket]; e != nil; e = e.next {
		out = append(out, e.val)
	}
	return out
}

// All returns every stored value, bucket by bucket.
func (t *Table[V]) All() []V {
	out := make([]V, 0, t.size)
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			out = append(out, e.val)
		}
	}
	return out
}

// Len returns the number of stored values.
func (t *Table[V]) Len() int { return t.size }

// NumBuckets returns the bucket count.
func (t *Table[V]) NumBuckets() int { return len(t.buckets) }

// Stats computes the bucket distribution.
func (t *Table[V]) Stats() TableStats {
	s := TableStats{Flows: t.size}
	for _, n := range t.counts {
		if n == 0 {
			s.EmptyBuckets++
		}
		if n > s.MaxPerBucket {
			s.MaxPerBucket = n
		}
	}
	if t.size == 0 {
		return s
	}
	avg := float64(t.size) / float64(len(t.counts))
	var sum float64
	for _, n := range t.counts {
		diff := float64(n) - avg
		sum += diff * diff
	}
	s.StdDev = math.Sqrt(sum / float64(t.size))
	return s
}
