package pipeline

import (
	"math/rand"
	"net/netip"
	"testing"

	"firestige.xyz/chronicle/internal/flow"
)

func TestBothDirectionsShareAShard(t *testing.T) {
	d := newDispatcher(8, 16)
	rng := rand.New(rand.NewSource(7))
	used := make(map[int]bool)

	for i := 0; i < 1000; i++ {
		var a, b [4]byte
		rng.Read(a[:])
		rng.Read(b[:])
		key := flow.Key{
			SrcIP:   netip.AddrFrom4(a),
			DstIP:   netip.AddrFrom4(b),
			SrcPort: uint16(rng.Intn(65536)),
			DstPort: 2049,
		}
		s := d.shard(key)
		if r := d.shard(key.Reverse()); r != s {
			t.Fatalf("%v on shard %d, reverse on %d", key, s, r)
		}
		if s < 0 || s >= 8 {
			t.Fatalf("shard %d out of range", s)
		}
		used[s] = true
	}
	if len(used) != 8 {
		t.Errorf("expected all 8 shards used, got %d", len(used))
	}
}

func TestSingleShard(t *testing.T) {
	d := newDispatcher(1, 0)
	key := flow.Key{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("10.0.0.2"),
		SrcPort: 871,
		DstPort: 2049,
	}
	if s := d.shard(key); s != 0 {
		t.Fatalf("expected shard 0, got %d", s)
	}
}
