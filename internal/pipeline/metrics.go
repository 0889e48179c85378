package pipeline

import "sync/atomic"

// Metrics contains pipeline-wide counters shared by the capture goroutines
// and the sink stage.
type Metrics struct {
	Received      atomic.Uint64
	Decoded       atomic.Uint64
	DecodeErrors  atomic.Uint64
	PoolExhausted atomic.Uint64
	Dispatched    atomic.Uint64
	Records       atomic.Uint64
	SinkErrors    atomic.Uint64
}
