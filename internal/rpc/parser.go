// Package rpc discovers ONC RPC records in reassembled TCP flows, pairs
// calls with their replies and hands the resulting PDUs to an Emitter.
package rpc

import (
	"time"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/flow"
)

// Emitter receives ready PDUs. Each entry of batch is a bad PDU, an unmatched
// call, or a call whose Next is its reply. The receiver owns the packet
// references of the batch and gives them back with Release.
type Emitter interface {
	Emit(batch []*PDU)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(batch []*PDU)

// Emit calls f(batch).
func (f EmitterFunc) Emit(batch []*PDU) { f(batch) }

type action uint8

const (
	actionNone action = iota
	actionInsertCall
	actionPassReply
)

type step uint8

const (
	stepNext    step = iota // continue with the packet after the cursor
	stepRestart             // continue at the flow head
	stepWait                // nothing more can be found for now
	stepFound               // a PDU was constructed
	stepResume              // continue at result.resume
)

type result struct {
	step   step
	pdu    *PDU
	action action
	resume flow.Handle
}

// header is what the direct match read from an RPC record.
type header struct {
	first  flow.Handle
	offset int
	length uint32
	xid    uint32
}

// Parser turns the packets of NFS connections into PDUs. One parser owns one
// arena and one flow table and must only be used from a single goroutine.
type Parser struct {
	cfg     Config
	arena   *flow.Arena
	table   *flow.Table[*Flow]
	emitter Emitter
	nav     *Cursor
	sigs    *Signatures

	stats    Stats
	removed  flow.Counters
	gcBucket int
	gcTick   time.Time
}

// NewParser creates a parser over arena that hands PDUs to emitter.
func NewParser(cfg Config, arena *flow.Arena, emitter Emitter) *Parser {
	return &Parser{
		cfg:     cfg,
		arena:   arena,
		table:   flow.NewTable[*Flow](cfg.FlowTableBuckets),
		emitter: emitter,
		nav:     NewCursor(arena),
		sigs:    DefaultSignatures(),
	}
}

// SetSignatures replaces the header signatures used by the recovery scan.
func (p *Parser) SetSignatures(s *Signatures) { p.sigs = s }

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() Stats {
	s := p.stats
	s.Flows = p.removed
	for _, f := range p.table.All() {
		s.Flows.Add(f.Counters)
	}
	return s
}

// TableStats describes the flow table.
func (p *Parser) TableStats() flow.TableStats { return p.table.Stats() }

// Lookup returns the flow stored for key.
func (p *Parser) Lookup(key flow.Key) (*Flow, bool) {
	f, _, ok := p.table.Lookup(key)
	return f, ok
}

// Process takes ownership of the packet at h. Packets outside NFS
// connections and packets the flow rejects are released at once.
func (p *Parser) Process(h flow.Handle) {
	pkt := p.arena.Get(h)
	if !IsRPCConnection(pkt.SrcPort, pkt.DstPort) {
		p.stats.NonRPC++
		p.arena.Release(h)
		return
	}
	if pkt.ToParse < pkt.PayloadOffset {
		pkt.ToParse = pkt.PayloadOffset
	}
	ts := pkt.Timestamp
	if p.gcTick.IsZero() {
		p.gcTick = ts
	}

	key := pkt.Key()
	f, bucket, ok := p.table.Lookup(key)
	if !ok {
		f = newFlow(key, p.arena)
		rev := newFlow(key.Reverse(), p.arena)
		f.Reverse, rev.Reverse = rev, f
		p.table.Insert(bucket, rev.Key, rev)
		p.table.Insert(bucket, key, f)
	}

	accepted, flush := f.Insert(h)
	if !accepted {
		f.Counters.Dropped++
		p.arena.Release(h)
	} else if f.Len() >= p.cfg.PacketsBatchSize || flush {
		p.parseFlow(f, f.Reverse)
	}
	p.sweep(ts)
}

// parseFlow extracts every PDU it can from f. Replies are paired with the
// calls pending on rev.
func (p *Parser) parseFlow(f, rev *Flow) {
	start := flow.Nil
	for {
		pdu, act := p.findPDU(f, &start)
		if pdu == nil {
			if h := f.Head(); h != flow.Nil && p.arena.Get(h).Visits > p.cfg.ScanThresh {
				if !p.scan(f, &start) {
					p.gcByVisits(f, f.Head(), p.cfg.GCThresh)
				}
			}
			return
		}
		switch act {
		case actionInsertCall:
			p.insertCall(f, pdu, false)
		case actionPassReply:
			p.ready(rev, pdu, 2)
		}
		if start == flow.Nil || f.Head() == flow.Nil {
			return
		}
	}
}

// findPDU tries a direct header match at every packet from *start (the head
// when unset) onwards. On success *start is where the next search resumes.
func (p *Parser) findPDU(f *Flow, start *flow.Handle) (*PDU, action) {
	h := *start
	if h == flow.Nil {
		h = f.Head()
	}
	for h != flow.Nil {
		var r result
		if f.IsCall() {
			r = p.matchCall(f, h, start)
		} else {
			r = p.matchReply(f, h, start)
		}
		switch r.step {
		case stepFound:
			return r.pdu, r.action
		case stepWait:
			return nil, actionNone
		case stepRestart:
			h = f.Head()
		case stepResume:
			h = r.resume
		default:
			if at := p.nav.Packet(); at != h {
				h = at
			} else {
				h = p.arena.Next(h)
			}
		}
	}
	return nil, actionNone
}

func (p *Parser) matchCall(f *Flow, h flow.Handle, start *flow.Handle) result {
	pkt := p.arena.Get(h)
	nav := p.nav
	nav.Init(h, pkt.ToParse)
	if pkt.Visits > p.cfg.GCThresh && p.gcByVisits(f, h, p.cfg.GCThresh+1) {
		return result{step: stepRestart}
	}
	if *start == f.Head() || h != *start {
		visit(pkt)
	}

	hdr := header{first: nav.Packet(), offset: nav.Index()}
	var ok bool
	if hdr.length, hdr.xid, ok = p.readMarker(MsgCall); !ok {
		return result{}
	}
	rpcVers, ok := nav.Uint32(false)
	if !ok || rpcVers != RPCVersion {
		return result{}
	}
	var prog, vers, proc uint32
	if prog, ok = nav.Uint32(false); !ok {
		return result{}
	}
	if vers, ok = nav.Uint32(false); !ok {
		return result{}
	}
	if proc, ok = nav.Uint32(false); !ok {
		return result{}
	}
	if !p.skipAuth() || !p.skipAuth() {
		return result{}
	}
	if prog != NFSProgram {
		// only NFS calls become PDUs; MOUNT and portmap records stay queued
		// until garbage collection turns them into a bad PDU
		return result{}
	}

	pdu := p.findNFS(f, hdr, MsgCall, vers, proc, 0)
	if pdu == nil {
		return result{}
	}
	*start = p.resumeAfter(pdu.Last)
	if !f.calls.has(pdu.XID) {
		return result{step: stepFound, pdu: pdu, action: actionInsertCall}
	}

	// Retransmitted call: the first copy stays pending.
	switch pdu.Verdict {
	case core.VerdictComplete:
		p.stats.CompleteCalls--
	case core.VerdictCompleteHeader:
		p.stats.CompleteHeaderCalls--
	}
	pdu.Verdict = core.VerdictBad
	pdu.Program, pdu.Version, pdu.Procedure = BadMarker, BadMarker, BadMarker
	resume := *start
	*start = flow.Nil
	p.passBad(pdu)
	return result{step: stepResume, resume: resume}
}

func (p *Parser) matchReply(f *Flow, h flow.Handle, start *flow.Handle) result {
	pkt := p.arena.Get(h)
	rev := f.Reverse
	nav := p.nav
	nav.Init(h, pkt.ToParse)
	if p.holdReply(f, rev, pkt) {
		return result{step: stepWait}
	}
	if pkt.Visits > p.cfg.GCThresh && p.gcByVisits(f, h, p.cfg.GCThresh+1) {
		return result{step: stepRestart}
	}
	if *start == f.Head() || h != *start {
		visit(pkt)
	}

	hdr := header{first: nav.Packet(), offset: nav.Index()}
	var ok bool
	if hdr.length, hdr.xid, ok = p.readMarker(MsgReply); !ok {
		return result{}
	}
	call := rev.calls.take(hdr.xid)
	if call == nil {
		if at := nav.Packet(); at != flow.Nil && p.arena.Get(at).Visits >= p.cfg.GCThresh {
			p.stats.UnmatchedReplies++
			p.gcUpTo(f, at)
			return result{step: stepRestart}
		}
		return result{}
	}

	accept, ok := p.readReplyBody()
	if ok && call.Program == NFSProgram {
		if pdu := p.findNFS(f, hdr, MsgReply, call.Version, call.Procedure, accept); pdu != nil {
			call.Next = pdu
			*start = p.resumeAfter(pdu.Last)
			return result{step: stepFound, pdu: call, action: actionPassReply}
		}
	}
	p.insertCall(rev, call, false)
	return result{}
}

// holdReply reports whether replies must wait for the calls they answer.
// The reply's ack tells how much of the call stream the server had seen.
func (p *Parser) holdReply(f, rev *Flow, pkt *flow.Packet) bool {
	ack := pkt.Ack
	if rh := rev.Head(); rh != flow.Nil && flow.SeqAhead(ack, p.arena.Get(rh).Seq) {
		if flow.SeqAhead(ack, rev.MaxSeq()) {
			p.capReplies(f)
			return true
		}
		stale := pkt.Timestamp.Sub(p.arena.Get(rh).Timestamp) >= p.cfg.CallReplySyncWait
		if f.Len() < p.cfg.ReplyParseThresh {
			return !stale
		}
		p.stats.ForcedReplyScans++
		if p.arena.Get(f.Head()).Visits < p.cfg.CompleteHeaderThresh {
			f.raiseVisits(f.Len()-int(p.cfg.GCThresh), p.cfg.CompleteHeaderThresh)
		}
		return false
	}
	if (!rev.Started() && ack != 0) || flow.SeqAhead(ack, rev.MaxSeq()) {
		p.capReplies(f)
		return true
	}
	return false
}

// capReplies drops the whole reply queue once it grew far ahead of the calls.
func (p *Parser) capReplies(f *Flow) {
	if f.Len() <= 2*p.cfg.ReplyParseThresh {
		return
	}
	pdu := p.bad(f, f.Head(), f.Tail())
	f.ReleaseUpTo(f.Tail(), true)
	p.stats.ForcedGC++
	p.passBad(pdu)
}

// readMarker reads the record marker, the XID and the message type.
func (p *Parser) readMarker(msgType uint32) (length, xid uint32, ok bool) {
	nav := p.nav
	marker, ok := nav.Uint32(false)
	if !ok || marker&lastFragment == 0 {
		return 0, 0, false
	}
	if xid, ok = nav.Uint32(false); !ok {
		return 0, 0, false
	}
	mt, ok := nav.Uint32(false)
	if !ok || mt != msgType {
		return 0, 0, false
	}
	return marker &^ lastFragment, xid, true
}

// skipAuth skips an opaque_auth: flavor, length and padded body.
func (p *Parser) skipAuth() bool {
	if !p.nav.Skip(4, false) {
		return false
	}
	n, ok := p.nav.Uint32(false)
	return ok && p.nav.Skip(xdrPad(n), false)
}

// readReplyBody skips the reply status and verifier and returns the accept
// state.
func (p *Parser) readReplyBody() (uint32, bool) {
	if !p.nav.Skip(4, false) || !p.skipAuth() {
		return 0, false
	}
	return p.nav.Uint32(false)
}

// findNFS builds an NFS PDU whose program data starts at the cursor.
func (p *Parser) findNFS(f *Flow, hdr header, msgType, version, proc, accept uint32) *PDU {
	progFirst := p.nav.Packet()
	if progFirst == flow.Nil {
		return nil
	}
	// A header spread over more than two packets is taken as a false positive.
	if hdr.first != progFirst && p.arena.Next(hdr.first) != progFirst {
		return nil
	}
	if version != NFSVersion3 || proc > nfs3MaxProcedure {
		return nil
	}
	pdu := &PDU{
		Key:          f.Key,
		Timestamp:    p.arena.Get(hdr.first).Timestamp,
		First:        hdr.first,
		ProgFirst:    progFirst,
		Length:       hdr.length,
		XID:          hdr.xid,
		MsgType:      msgType,
		Program:      NFSProgram,
		Version:      version,
		Procedure:    proc,
		AcceptState:  accept,
		HeaderOffset: hdr.offset,
		ProgOffset:   p.nav.Index(),
		Payload:      Payload{Family: FamilyNFSv3},
	}
	if !p.constructAndDetach(f, pdu) {
		return nil
	}
	return pdu
}

// construct finds the end of pdu. A PDU whose body is cut by a hole is
// accepted with its header only once its first packet has been visited often
// enough.
func (p *Parser) construct(f *Flow, pdu *PDU) bool {
	a := p.arena
	nav := p.nav
	remained := pdu.Length - uint32(nav.Parsed()) + 4

	cur := a.Get(nav.Packet())
	needed := cur.Seq + uint32(nav.Index()-cur.PayloadOffset) + remained
	if d := needed - f.MaxSeq(); d != 0 && d < flow.MaxRecvWindow {
		// the rest has not arrived yet
		nav.Init(f.Tail(), 0)
		return false
	}

	reply := f.Key.SrcPort == NFSPort
	if !nav.Skip(uint64(remained), false) {
		if a.Get(pdu.First).Visits < p.cfg.CompleteHeaderThresh {
			return false
		}
		pdu.Verdict = core.VerdictCompleteHeader
		if reply {
			p.stats.CompleteHeaderReplies++
		} else {
			p.stats.CompleteHeaderCalls++
		}
		switch at := nav.Packet(); {
		case at == flow.Nil:
			pdu.Last = f.Tail()
		case at == pdu.First:
			pdu.Last = at
		default:
			pdu.Last = a.Prev(at)
		}
		last := a.Get(pdu.Last)
		pdu.ProgEnd = last.CapLen - 1
		last.ToParse = last.CapLen
		return true
	}

	pdu.Verdict = core.VerdictComplete
	if reply {
		p.stats.CompleteReplies++
	} else {
		p.stats.CompleteCalls++
	}
	pdu.Last = nav.Packet()
	last := a.Get(pdu.Last)
	last.ToParse = nav.Index()
	pdu.ProgEnd = last.ToParse - 1
	return true
}

// constructAndDetach constructs pdu and moves its packets from the flow to
// the PDU. A last packet with unparsed bytes stays queued and is shared.
func (p *Parser) constructAndDetach(f *Flow, pdu *PDU) bool {
	if !p.construct(f, pdu) {
		return false
	}
	a := p.arena
	if pdu.First != f.Head() && a.Get(f.Head()).Has(flow.FlagScanned) {
		p.gcUpTo(f, a.Prev(pdu.First))
	}
	if last := a.Get(pdu.Last); last.ToParse < last.CapLen {
		f.ReleaseRange(pdu.First, pdu.Last, false)
		a.Retain(pdu.Last)
	} else {
		f.ReleaseRange(pdu.First, pdu.Last, true)
	}
	return true
}

func (p *Parser) resumeAfter(last flow.Handle) flow.Handle {
	if pkt := p.arena.Get(last); pkt.ToParse < pkt.CapLen {
		return last
	}
	return p.arena.Next(last)
}

// bad wraps first..last into a PDU without RPC semantics.
func (p *Parser) bad(f *Flow, first, last flow.Handle) *PDU {
	fp := p.arena.Get(first)
	msgType := MsgReply
	if f.IsCall() {
		msgType = MsgCall
	}
	return &PDU{
		Verdict:      core.VerdictBad,
		Key:          f.Key,
		Timestamp:    fp.Timestamp,
		First:        first,
		Last:         last,
		MsgType:      msgType,
		Program:      BadMarker,
		Version:      BadMarker,
		Procedure:    BadMarker,
		HeaderOffset: fp.ToParse,
		ProgEnd:      p.arena.Get(last).CapLen - 1,
	}
}

func (p *Parser) passBad(pdu *PDU) {
	p.stats.BadPDUs++
	p.emitter.Emit([]*PDU{pdu})
}

// gcByVisits turns the prefix of packets visited at least v times into a bad
// PDU, provided the packet at h went past v.
func (p *Parser) gcByVisits(f *Flow, h flow.Handle, v uint16) bool {
	a := p.arena
	if a.Get(h).Visits <= v {
		return false
	}
	for h != flow.Nil && a.Get(h).Visits >= v {
		h = a.Next(h)
	}
	last := f.Tail()
	if h != flow.Nil {
		last = a.Prev(h)
	}
	pdu := p.bad(f, f.Head(), last)
	f.ReleaseUpTo(last, true)
	p.passBad(pdu)
	return true
}

// gcUpTo turns every packet from the head through h into a bad PDU.
func (p *Parser) gcUpTo(f *Flow, h flow.Handle) {
	pdu := p.bad(f, f.Head(), h)
	f.ReleaseUpTo(h, true)
	p.passBad(pdu)
}

// gcByTime turns the visited packets captured at or before cutoff into a bad
// PDU. The head goes in any case once it is that old.
func (p *Parser) gcByTime(f *Flow, cutoff time.Time) bool {
	a := p.arena
	h := f.Head()
	if h == flow.Nil || a.Get(h).Timestamp.After(cutoff) {
		return false
	}
	for h != flow.Nil {
		pkt := a.Get(h)
		if pkt.Timestamp.After(cutoff) || pkt.Visits == 0 {
			break
		}
		h = a.Next(h)
	}
	last := f.Tail()
	if h != flow.Nil {
		last = a.Prev(h)
	}
	if last == flow.Nil {
		last = f.Head()
	}
	pdu := p.bad(f, f.Head(), last)
	f.ReleaseUpTo(last, true)
	p.passBad(pdu)
	return true
}

// insertCall makes pdu pending on f. Outside shutdown the pending table is
// bounded: past twice the threshold the oldest call is evicted, past the
// threshold calls older than the flow time window are.
func (p *Parser) insertCall(f *Flow, pdu *PDU, shutdown bool) {
	if !f.calls.push(pdu) {
		p.stats.UnmatchedCalls++
		p.ready(f, pdu, 1)
		return
	}
	if shutdown {
		return
	}
	n := f.calls.Len()
	if n > 2*p.cfg.UnmatchedCallGCThresh {
		p.stats.UnmatchedCalls++
		p.ready(f, f.calls.popFront(), 1)
	}
	if n > p.cfg.UnmatchedCallGCThresh {
		p.gcCalls(f, pdu.Timestamp)
	}
}

// gcCalls evicts pending calls older than the flow time window at now.
func (p *Parser) gcCalls(f *Flow, now time.Time) {
	for c := f.calls.front(); c != nil && now.Sub(c.Timestamp) > p.cfg.FlowTimeWindow; c = f.calls.front() {
		f.calls.popFront()
		p.stats.UnmatchedCalls++
		p.ready(f, c, 1)
	}
}

// passCalls turns every pending call into an unmatched one.
func (p *Parser) passCalls(f *Flow) {
	for c := f.calls.popFront(); c != nil; c = f.calls.popFront() {
		p.stats.UnmatchedCalls++
		f.insertReady(c, 1)
	}
}

// ready queues pdu, n PDUs counted, and emits the queue once it is full.
func (p *Parser) ready(f *Flow, pdu *PDU, n int) {
	f.insertReady(pdu, n)
	if f.readySize >= p.cfg.PDUsBatchSize {
		p.passReady(f)
	}
}

func (p *Parser) passReady(f *Flow) {
	if len(f.ready) == 0 {
		return
	}
	batch := f.ready
	p.stats.GoodPDUs += uint64(f.readySize)
	f.ready, f.readySize = nil, 0
	p.emitter.Emit(batch)
}
