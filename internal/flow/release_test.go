package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFlow(t *testing.T, seqs ...uint32) (*Descriptor, []Handle) {
	t.Helper()
	d := newTestFlow()
	var hs []Handle
	for _, s := range seqs {
		h, ok := insertSegment(t, d, s, 100)
		require.True(t, ok)
		hs = append(hs, h)
	}
	return d, hs
}

func TestReleaseCount(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1200, 1300)

	first := d.ReleaseCount(2)
	require.NoError(t, d.Validate())
	assert.Equal(t, hs[0], first)
	assert.Equal(t, hs[2], d.Head())
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, hs[2], d.FirstUnscanned())

	d.ReleaseCount(10)
	require.NoError(t, d.Validate())
	assert.Equal(t, Nil, d.Head())
	assert.Equal(t, Nil, d.Tail())
}

func TestReleaseUpToClearsHeadFlag(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1300, 1400)
	require.Equal(t, hs[2], d.FirstOutOfOrder())

	d.ReleaseUpTo(hs[1], true)
	require.NoError(t, d.Validate())
	assert.Equal(t, hs[2], d.Head())
	assert.False(t, d.arena.Get(hs[2]).Has(FlagOutOfOrder))
	assert.Equal(t, Nil, d.FirstOutOfOrder())
	assert.Equal(t, 2, d.Len())
}

func TestReleaseUpToExclusiveKeepsLast(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1200)

	d.ReleaseUpTo(hs[1], false)
	require.NoError(t, d.Validate())
	assert.Equal(t, hs[1], d.Head())
	assert.Equal(t, 2, d.Len())
	// unlinked packets keep their forward links for the PDU walk
	assert.Equal(t, hs[1], d.arena.Next(hs[0]))
}

func TestReleaseRangeMiddle(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1200, 1300, 1400)
	d.SetFirstUnscanned(hs[2])

	d.ReleaseRange(hs[1], hs[3], false)
	require.NoError(t, d.Validate())
	assert.Equal(t, []uint32{1000, 1300, 1400}, listSeqs(d))
	assert.True(t, d.arena.Get(hs[3]).Has(FlagOutOfOrder))
	assert.Equal(t, hs[3], d.FirstOutOfOrder())
	assert.Equal(t, hs[3], d.FirstUnscanned())
	assert.Equal(t, 3, d.Len())
}

func TestReleaseRangeInclusiveToTail(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1200)

	d.ReleaseRange(hs[1], hs[2], true)
	require.NoError(t, d.Validate())
	assert.Equal(t, hs[0], d.Tail())
	assert.Equal(t, 1, d.Len())

	// the next in-sequence packet now leaves a gap behind the shortened tail
	h, ok := insertSegment(t, d, 1300, 100)
	require.True(t, ok)
	assert.True(t, d.arena.Get(h).Has(FlagOutOfOrder))
	assert.Equal(t, h, d.FirstOutOfOrder())
}

func TestReleaseRangeFromHeadDelegates(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1200)

	first := d.ReleaseRange(hs[0], hs[1], true)
	require.NoError(t, d.Validate())
	assert.Equal(t, hs[0], first)
	assert.Equal(t, hs[2], d.Head())
}

func TestReleaseRangeKeepingSinglePacketIsNoop(t *testing.T) {
	d, hs := buildFlow(t, 1000, 1100, 1200)

	d.ReleaseRange(hs[1], hs[1], false)
	require.NoError(t, d.Validate())
	assert.Equal(t, 3, d.Len())
	assert.False(t, d.arena.Get(hs[1]).Has(FlagOutOfOrder))
}

func TestSeqAhead(t *testing.T) {
	assert.True(t, SeqAhead(1100, 1000))
	assert.False(t, SeqAhead(1000, 1000))
	assert.False(t, SeqAhead(1000, 1100))
	assert.True(t, SeqAhead(50, 0xffffffce), "ahead across the wrap")
	assert.False(t, SeqAhead(0xffffffce, 50))
}
