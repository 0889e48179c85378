package rpc

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"firestige.xyz/chronicle/internal/flow"
)

const (
	testOffset = 54
	clientPort = 871
)

var (
	clientIP = netip.MustParseAddr("10.1.0.7")
	serverIP = netip.MustParseAddr("10.1.0.2")
	baseTime = time.Unix(1700000000, 0)
)

func callKey() flow.Key {
	return flow.Key{SrcIP: clientIP, DstIP: serverIP, SrcPort: clientPort, DstPort: NFSPort}
}

// emitted is one PDU as seen by the emitter, before its packets were released.
type emitted struct {
	pdu     *PDU
	packets int
	seqs    []uint32
}

type harness struct {
	t       *testing.T
	arena   *flow.Arena
	parser  *Parser
	batches [][]emitted
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{t: t, arena: flow.NewArena()}
	h.parser = NewParser(cfg, h.arena, EmitterFunc(func(batch []*PDU) {
		var out []emitted
		for _, pdu := range batch {
			for q := pdu; q != nil; q = q.Next {
				e := emitted{pdu: q}
				for _, ph := range q.Packets(h.arena) {
					e.packets++
					e.seqs = append(e.seqs, h.arena.Get(ph).Seq)
				}
				out = append(out, e)
			}
			Release(h.arena, pdu)
		}
		h.batches = append(h.batches, out)
	}))
	return h
}

func (h *harness) all() []emitted {
	var out []emitted
	for _, b := range h.batches {
		out = append(out, b...)
	}
	return out
}

func (h *harness) segment(fromClient bool, seq, ack uint32, payload []byte, at time.Duration) flow.Handle {
	data := make([]byte, testOffset+len(payload))
	copy(data[testOffset:], payload)
	pkt := flow.Packet{
		Data:          data,
		Timestamp:     baseTime.Add(at),
		CapLen:        len(data),
		WireLen:       uint32(len(data)),
		SrcIP:         clientIP,
		DstIP:         serverIP,
		SrcPort:       clientPort,
		DstPort:       NFSPort,
		Seq:           seq,
		Ack:           ack,
		PayloadOffset: testOffset,
		PayloadLen:    uint32(len(payload)),
		ToParse:       testOffset,
	}
	if !fromClient {
		pkt.SrcIP, pkt.DstIP = serverIP, clientIP
		pkt.SrcPort, pkt.DstPort = NFSPort, clientPort
	}
	return h.arena.Alloc(pkt)
}

// send feeds a client segment to the parser.
func (h *harness) send(seq uint32, payload []byte, at time.Duration) {
	h.parser.Process(h.segment(true, seq, 1, payload, at))
}

// answer feeds a server segment acknowledging ack.
func (h *harness) answer(seq, ack uint32, payload []byte, at time.Duration) {
	h.parser.Process(h.segment(false, seq, ack, payload, at))
}

func (h *harness) flowOf(fromClient bool) *Flow {
	key := callKey()
	if !fromClient {
		key = key.Reverse()
	}
	f, ok := h.parser.Lookup(key)
	if !ok {
		h.t.Fatalf("no flow for %v", key)
	}
	return f
}

func be32(b []byte, vs ...uint32) []byte {
	for _, v := range vs {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

func record(body []byte) []byte {
	return append(be32(nil, lastFragment|uint32(len(body))), body...)
}

// nfsCall builds a record-marked NFSv3 call with AUTH_NULL credentials.
func nfsCall(xid, proc uint32, args []byte) []byte {
	body := be32(nil, xid, MsgCall, RPCVersion, NFSProgram, NFSVersion3, proc, 0, 0, 0, 0)
	return record(append(body, args...))
}

// nfsReply builds a record-marked accepted reply.
func nfsReply(xid uint32, results []byte) []byte {
	body := be32(nil, xid, MsgReply, 0, 0, 0, 0)
	return record(append(body, results...))
}

func fileHandle(n int) []byte {
	fh := make([]byte, n)
	for i := range fh {
		fh[i] = byte(i + 1)
	}
	return append(be32(nil, uint32(n)), fh...)
}

func garbage(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xab
	}
	return b
}
