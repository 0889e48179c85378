package rpc

import "firestige.xyz/chronicle/internal/flow"

// Stats are the counters of one parser instance. They are plain values
// pulled by the owning shard, never shared.
type Stats struct {
	GoodPDUs              uint64
	BadPDUs               uint64
	CompleteCalls         uint64
	CompleteReplies       uint64
	CompleteHeaderCalls   uint64
	CompleteHeaderReplies uint64
	UnmatchedCalls        uint64
	UnmatchedReplies      uint64
	ScannedCallHeaders    uint64
	ScannedReplyHeaders   uint64
	ForcedReplyScans      uint64
	ForcedGC              uint64
	NonRPC                uint64

	// Flows aggregates the insertion counters of every flow, live or removed.
	Flows flow.Counters
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.GoodPDUs += o.GoodPDUs
	s.BadPDUs += o.BadPDUs
	s.CompleteCalls += o.CompleteCalls
	s.CompleteReplies += o.CompleteReplies
	s.CompleteHeaderCalls += o.CompleteHeaderCalls
	s.CompleteHeaderReplies += o.CompleteHeaderReplies
	s.UnmatchedCalls += o.UnmatchedCalls
	s.UnmatchedReplies += o.UnmatchedReplies
	s.ScannedCallHeaders += o.ScannedCallHeaders
	s.ScannedReplyHeaders += o.ScannedReplyHeaders
	s.ForcedReplyScans += o.ForcedReplyScans
	s.ForcedGC += o.ForcedGC
	s.NonRPC += o.NonRPC
	s.Flows.Add(o.Flows)
}
