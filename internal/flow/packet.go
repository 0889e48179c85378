package flow

import (
	"net/netip"
	"time"
)

// Flag is the status bit set of a packet record.
type Flag uint8

const (
	FlagOutOfOrder Flag = 1 << iota // leaves a gap relative to its predecessor
	FlagTruncated                   // byte range cut to remove an overlap
	FlagScanned                     // already searched for an RPC header signature
	FlagRetransmitted
)

// Packet is one captured TCP segment carrying payload.
//
// Offsets are relative to the start of the frame in Data. CapLen is the end of
// the usable bytes and shrinks when the segment is truncated.
type Packet struct {
	Buf       Buffer
	Data      []byte
	Timestamp time.Time
	WireLen   uint32
	CapLen    int

	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32

	PayloadOffset int
	PayloadLen    uint32

	// ToParse is how far protocol parsers have consumed this packet.
	ToParse int
	// Visits counts failed PDU discovery passes over this packet.
	Visits uint16
	Flags  Flag

	prev, next Handle
	refs       int32
}

// End returns the sequence number one past the last payload byte.
func (p *Packet) End() uint32 {
	return p.Seq + p.PayloadLen
}

// Has reports whether every bit of f is set.
func (p *Packet) Has(f Flag) bool {
	return p.Flags&f == f
}

// Key returns the flow key of the packet's direction.
func (p *Packet) Key() Key {
	return Key{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort}
}
