package rpc

import (
	"time"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/flow"
)

// Family tags the program-specific payload of a PDU.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyNFSv3
)

// Payload holds the fields decoded from the program part of a PDU. Exactly
// the member named by Family is set.
type Payload struct {
	Family Family
	NFSv3  *core.NFSv3
}

// PDU is one RPC message reconstructed from a span of packets. The span runs
// from First to Last through the packets' forward links and owns one arena
// reference per packet.
//
// Ready PDUs are handed out either alone (a bad PDU or an unmatched call) or
// as a call whose Next is its reply.
type PDU struct {
	Verdict   core.Verdict
	Key       flow.Key
	Timestamp time.Time

	First     flow.Handle
	Last      flow.Handle
	ProgFirst flow.Handle

	// Length is the record length without the marker.
	Length      uint32
	XID         uint32
	MsgType     uint32
	Program     uint32
	Version     uint32
	Procedure   uint32
	AcceptState uint32

	// Frame offsets of the record marker, the first program byte and the
	// last program byte.
	HeaderOffset int
	ProgOffset   int
	ProgEnd      int

	Next    *PDU
	Payload Payload
}

// Direction reports whether the PDU is a call or a reply.
func (p *PDU) Direction() core.Direction {
	if p.MsgType == MsgReply {
		return core.DirectionReply
	}
	return core.DirectionCall
}

// Packets returns the handles of the span in stream order.
func (p *PDU) Packets(a *flow.Arena) []flow.Handle {
	var out []flow.Handle
	for h := p.First; h != flow.Nil; h = a.Next(h) {
		out = append(out, h)
		if h == p.Last {
			break
		}
	}
	return out
}

// Release drops the span references of pdu and of every PDU chained to it.
func Release(a *flow.Arena, pdu *PDU) {
	for ; pdu != nil; pdu = pdu.Next {
		for _, h := range pdu.Packets(a) {
			a.Release(h)
		}
	}
}
