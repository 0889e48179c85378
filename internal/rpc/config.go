package rpc

import "time"

// Config holds the parser tunables.
type Config struct {
	// FlowTableBuckets is rounded up to a power of two.
	FlowTableBuckets int
	// PacketsBatchSize is the queue length that triggers a parse pass.
	PacketsBatchSize int
	// PDUsBatchSize is how many ready PDUs a flow collects before they are emitted.
	PDUsBatchSize int
	// GCThresh is the visit count past which leading packets become a bad PDU.
	GCThresh uint16
	// ScanThresh is the visit count that starts the signature scan.
	ScanThresh uint16
	// CompleteHeaderThresh is the visit count at which a PDU whose body is
	// missing is accepted with only its header.
	CompleteHeaderThresh uint16
	// ReplyParseThresh bounds how many reply packets may wait for their calls.
	ReplyParseThresh int
	// UnmatchedCallGCThresh is the pending call count that enables call eviction.
	UnmatchedCallGCThresh int
	// CallReplySyncWait is how long replies wait for a reverse head that
	// holds unparsed calls.
	CallReplySyncWait time.Duration
	// FlowTimeWindow is the age after which queued packets and pending calls
	// are evicted.
	FlowTimeWindow time.Duration
	// GCMaxBuckets caps the flow table buckets swept per packet.
	GCMaxBuckets int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		FlowTableBuckets:      65536,
		PacketsBatchSize:      64,
		PDUsBatchSize:         4,
		GCThresh:              512,
		ScanThresh:            64,
		CompleteHeaderThresh:  500,
		ReplyParseThresh:      16384,
		UnmatchedCallGCThresh: 32768,
		CallReplySyncWait:     5 * time.Second,
		FlowTimeWindow:        30 * time.Second,
		GCMaxBuckets:          50,
	}
}
