// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"sync"
	"time"
)

// RawPacket is captured from the network interface or read from a capture file.
// Data is only valid for the duration of the handler call that received it.
type RawPacket struct {
	Data           []byte    // Raw frame data, may alias the source's ring
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
}

// Frame is one captured frame referenced by an emitted record.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	OrigLen   uint32
}

// Message is one reconstructed RPC call or reply.
type Message struct {
	Verdict   Verdict
	Direction Direction
	Timestamp time.Time

	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16

	XID         uint32
	Program     uint32
	Version     uint32
	Procedure   uint32
	AcceptState uint32
	Length      uint32 // record-marking length

	Frames []Frame
}

// Record is the sink-facing unit of output: a matched call/reply exchange,
// a lone unmatched call, or a BAD span carrying no RPC semantics.
type Record struct {
	Pipeline int
	Kind     RecordKind
	Call     *Message // nil for BAD spans seen on the reply side
	Reply    *Message
	NFS      *NFSv3 // populated for parsable NFSv3 exchanges

	once    sync.Once
	release func()
}

// NewRecord creates a record whose frames are returned to their owner by release.
func NewRecord(pipeline int, kind RecordKind, release func()) *Record {
	return &Record{Pipeline: pipeline, Kind: kind, release: release}
}

// Release hands the record's frames back to the buffer pool.
// It is safe to call more than once; only the first call has effect.
func (r *Record) Release() {
	r.once.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}

// Primary returns the call, or the reply when no call is attached.
func (r *Record) Primary() *Message {
	if r.Call != nil {
		return r.Call
	}
	return r.Reply
}

// Frames returns every frame of the record in call-then-reply order.
func (r *Record) Frames() []Frame {
	var out []Frame
	if r.Call != nil {
		out = append(out, r.Call.Frames...)
	}
	if r.Reply != nil {
		out = append(out, r.Reply.Frames...)
	}
	return out
}
