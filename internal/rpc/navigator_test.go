package rpc

import (
	"testing"

	"firestige.xyz/chronicle/internal/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildStream queues client segments with the given payloads, contiguous
// unless a gap is requested before a segment.
func buildStream(t *testing.T, h *harness, gaps map[int]uint32, payloads ...[]byte) (*Flow, []flow.Handle) {
	t.Helper()
	f := newFlow(callKey(), h.arena)
	seq := uint32(1000)
	var hs []flow.Handle
	for i, pl := range payloads {
		seq += gaps[i]
		x := h.segment(true, seq, 1, pl, 0)
		ok, _ := f.Insert(x)
		require.True(t, ok)
		hs = append(hs, x)
		seq += uint32(len(pl))
	}
	return f, hs
}

func TestCursorReadsAcrossPackets(t *testing.T) {
	h := newHarness(t, lazyConfig())
	_, hs := buildStream(t, h, nil,
		[]byte{0, 1, 2, 3, 4, 5},
		[]byte{6, 7, 8, 9, 10, 11},
	)
	c := NewCursor(h.arena)
	require.True(t, c.Init(hs[0], testOffset+4))

	v, ok := c.Uint32(false)
	require.True(t, ok)
	assert.Equal(t, uint32(0x04050607), v)
	assert.Equal(t, hs[1], c.Packet())
	assert.Equal(t, testOffset+2, c.Index())
	assert.Equal(t, 4, c.Parsed())
	assert.Equal(t, uint16(1), h.arena.Get(hs[1]).Visits)

	require.True(t, c.Back(4, false))
	assert.Equal(t, hs[0], c.Packet())
	assert.Equal(t, testOffset+4, c.Index())

	require.True(t, c.Skip(8, false))
	assert.Equal(t, hs[1], c.Packet())
	assert.Equal(t, testOffset+6, c.Index())

	_, ok = c.Uint32(false)
	assert.False(t, ok)
}

func TestCursorStopsAtGap(t *testing.T) {
	h := newHarness(t, lazyConfig())
	_, hs := buildStream(t, h, map[int]uint32{1: 10},
		[]byte{0, 0, 0, 1, 0, 0},
		[]byte{0, 2, 0, 0, 0, 3},
	)
	c := NewCursor(h.arena)
	c.Init(hs[0], testOffset)
	v, ok := c.Uint32(false)
	require.True(t, ok)
	assert.Equal(t, uint32(1), v)

	_, ok = c.Uint32(false)
	assert.False(t, ok)
	assert.Equal(t, hs[1], c.Packet())
	assert.False(t, c.Back(4, false))
}

func TestCursorScanModeMarksPackets(t *testing.T) {
	h := newHarness(t, lazyConfig())
	_, hs := buildStream(t, h, nil, garbage(4), garbage(4), garbage(4))
	c := NewCursor(h.arena)
	c.Init(hs[0], testOffset)
	require.True(t, c.Skip(8, true))

	assert.True(t, h.arena.Get(hs[0]).Has(flow.FlagScanned))
	assert.False(t, h.arena.Get(hs[1]).Has(flow.FlagScanned))
	assert.Equal(t, uint16(0), h.arena.Get(hs[1]).Visits)

	require.True(t, c.Back(8, true))
	assert.Equal(t, hs[0], c.Packet())
	assert.True(t, h.arena.Get(hs[0]).Has(flow.FlagScanned))
}

func TestReaderIsBoundedByProgramEnd(t *testing.T) {
	h := newHarness(t, lazyConfig())
	_, hs := buildStream(t, h, nil,
		[]byte{0, 0, 0, 3, 'a', 'b'},
		[]byte{'c', 0, 0xff, 0xff},
	)
	pdu := &PDU{
		First:      hs[0],
		ProgFirst:  hs[0],
		ProgOffset: testOffset,
		Last:       hs[1],
		ProgEnd:    testOffset + 2,
	}
	r := NewReader(h.arena, pdu)
	s, ok := r.Opaque(16)
	require.True(t, ok)
	assert.Equal(t, "abc", string(s))
	assert.Equal(t, testOffset+2, r.Offset())

	_, ok = r.Uint32()
	assert.False(t, ok)

	r = NewReader(h.arena, pdu)
	_, ok = r.Opaque(2)
	assert.False(t, ok)
}
