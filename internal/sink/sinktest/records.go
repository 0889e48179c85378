// Package sinktest builds records for sink tests.
package sinktest

import (
	"net/netip"
	"time"

	"firestige.xyz/chronicle/internal/core"
)

var (
	Client = netip.MustParseAddr("10.1.0.7")
	Server = netip.MustParseAddr("10.1.0.2")

	// Start is the call timestamp of every built record.
	Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

const (
	ClientPort = 871
	ServerPort = 2049
)

// Frame returns a frame of n bytes stamped at ts.
func Frame(n int, ts time.Time) core.Frame {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return core.Frame{Data: data, Timestamp: ts, OrigLen: uint32(n)}
}

func message(dir core.Direction, xid, proc uint32, ts time.Time, frames ...core.Frame) *core.Message {
	m := &core.Message{
		Verdict:   core.VerdictComplete,
		Direction: dir,
		Timestamp: ts,
		XID:       xid,
		Program:   100003,
		Version:   3,
		Procedure: proc,
		Length:    120,
		Frames:    frames,
	}
	if dir == core.DirectionCall {
		m.SrcIP, m.DstIP, m.SrcPort, m.DstPort = Client, Server, ClientPort, ServerPort
	} else {
		m.SrcIP, m.DstIP, m.SrcPort, m.DstPort = Server, Client, ServerPort, ClientPort
	}
	return m
}

// Exchange returns a matched NFSv3 call/reply record with one frame per
// message. The reply arrives 2ms after the call. released counts Release
// calls when non-nil.
func Exchange(xid, proc uint32, name string, released *int) *core.Record {
	rec := core.NewRecord(0, core.KindExchange, func() {
		if released != nil {
			*released++
		}
	})
	reply := Start.Add(2 * time.Millisecond)
	rec.Call = message(core.DirectionCall, xid, proc, Start, Frame(150, Start))
	rec.Reply = message(core.DirectionReply, xid, proc, reply, Frame(200, reply))
	rec.NFS = &core.NFSv3{
		Procedure:  proc,
		ProcName:   name,
		Parsable:   true,
		FileHandle: []byte{0xde, 0xad, 0xbe, 0xef},
		Offset:     4096,
		Count:      8192,
		ReplyCount: 8192,
		FileID:     42,
	}
	return rec
}

// Unmatched returns a call record without a reply.
func Unmatched(xid, proc uint32) *core.Record {
	rec := core.NewRecord(1, core.KindUnmatchedCall, nil)
	rec.Call = message(core.DirectionCall, xid, proc, Start, Frame(120, Start))
	return rec
}

// Bad returns a BAD record spanning n frames on the call side.
func Bad(n int) *core.Record {
	rec := core.NewRecord(0, core.KindBad, nil)
	frames := make([]core.Frame, n)
	for i := range frames {
		frames[i] = Frame(90, Start.Add(time.Duration(i)*time.Millisecond))
	}
	rec.Call = &core.Message{
		Verdict:   core.VerdictBad,
		Direction: core.DirectionCall,
		Timestamp: Start,
		SrcIP:     Client,
		DstIP:     Server,
		SrcPort:   ClientPort,
		DstPort:   ServerPort,
		Frames:    frames,
	}
	return rec
}
