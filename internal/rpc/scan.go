package rpc

import "firestige.xyz/chronicle/internal/flow"

// CallSignature is three consecutive words found in NFSv3 call headers,
// possibly at a byte shift. Back is the distance from the end of the third
// word back to the record marker.
type CallSignature struct {
	Words [3]uint32
	Back  uint32
}

// ReplySignature is a word followed by one of Second, found in reply headers.
// Back is the distance from the end of the match back to the XID.
type ReplySignature struct {
	First  uint32
	Second []uint32
	Back   uint32
}

// Signatures is the table the recovery scan matches against.
type Signatures struct {
	Calls   []CallSignature
	Replies []ReplySignature

	callLead   map[uint32]bool
	callFollow map[uint32]bool
	replyLead  map[uint32]bool
}

// NewSignatures indexes the given call and reply signatures.
func NewSignatures(calls []CallSignature, replies []ReplySignature) *Signatures {
	s := &Signatures{
		Calls:      calls,
		Replies:    replies,
		callLead:   make(map[uint32]bool),
		callFollow: make(map[uint32]bool),
		replyLead:  make(map[uint32]bool),
	}
	for _, c := range calls {
		s.callLead[c.Words[0]] = true
		s.callFollow[c.Words[1]] = true
	}
	for _, r := range replies {
		s.replyLead[r.First] = true
	}
	return s
}

// DefaultSignatures matches NFSv3 calls (rpcvers 2, program 100003,
// version 3) at every byte alignment, and accepted replies.
func DefaultSignatures() *Signatures {
	return NewSignatures(
		[]CallSignature{
			{Words: [3]uint32{0x00000000, 0x00000200, 0x0186a300}, Back: 21},
			{Words: [3]uint32{0x00000000, 0x00020001, 0x86a30000}, Back: 22},
			{Words: [3]uint32{0x00000000, 0x02000186, 0xa3000000}, Back: 23},
			{Words: [3]uint32{0x00000002, 0x000186a3, 0x00000003}, Back: 24},
			{Words: [3]uint32{0x00000200, 0x0186a300, 0x00000300}, Back: 25},
			{Words: [3]uint32{0x00020001, 0x86a30000, 0x00030000}, Back: 26},
			{Words: [3]uint32{0x02000186, 0xa3000000, 0x03000000}, Back: 27},
		},
		[]ReplySignature{
			{First: 0x00000000, Second: []uint32{0, 1, 2, 3, 4}, Back: 16},
			{First: 0x01000000, Second: []uint32{0}, Back: 15},
			{First: 0x00010000, Second: []uint32{0}, Back: 14},
			{First: 0x00000100, Second: []uint32{0}, Back: 13},
			{First: 0x00000001, Second: []uint32{0}, Back: 12},
		},
	)
}

// matchCall reads the next candidate at the cursor. It returns how far back
// the record starts on a match, and ooo when the cursor ran out of
// contiguous bytes.
func (s *Signatures) matchCall(nav *Cursor) (back uint32, found, ooo bool) {
	w0, ok := nav.Uint32(true)
	if !ok {
		return 0, false, true
	}
	if !s.callLead[w0] {
		return 0, false, false
	}
	w1, ok := nav.Uint32(true)
	if !ok {
		return 0, false, true
	}
	for i := range s.Calls {
		sig := &s.Calls[i]
		if sig.Words[0] != w0 || sig.Words[1] != w1 {
			continue
		}
		w2, ok := nav.Uint32(true)
		if !ok {
			return 0, false, true
		}
		if w2 == sig.Words[2] {
			return sig.Back, true, false
		}
		if s.callLead[w2] || s.callFollow[w2] {
			nav.Back(4, true)
		}
		break
	}
	if s.callLead[w1] {
		nav.Back(4, true)
	}
	return 0, false, false
}

// matchReply is matchCall for replies. Replies carry no constant program
// words, so a candidate only matches when its XID is pending in calls.
func (s *Signatures) matchReply(nav *Cursor, calls *callTable) (back uint32, found, ooo bool) {
	w0, ok := nav.Uint32(true)
	if !ok {
		return 0, false, true
	}
	if !s.replyLead[w0] {
		return 0, false, false
	}
	w1, ok := nav.Uint32(true)
	if !ok {
		return 0, false, true
	}
	sig := s.reply(w0, w1)
	if sig == nil {
		if s.replyLead[w1] {
			nav.Back(4, true)
		}
		return 0, false, false
	}

	at, idx := nav.Packet(), nav.Index()
	if !nav.Back(sig.Back, true) {
		nav.Init(at, idx)
		return 0, false, false
	}
	if xid, ok := nav.Uint32(true); ok && calls.has(xid) && nav.Back(8, true) {
		return 0, true, false
	}
	nav.Init(at, idx)
	if s.replyLead[w1] {
		nav.Back(4, true)
	}
	return 0, false, false
}

func (s *Signatures) reply(w0, w1 uint32) *ReplySignature {
	for i := range s.Replies {
		r := &s.Replies[i]
		if r.First != w0 {
			continue
		}
		for _, v := range r.Second {
			if v == w1 {
				return r
			}
		}
	}
	return nil
}

// scan searches the unscanned packets of f for a header signature. On a match
// the header's packet is marked scanned, its parse offset moved to the
// header and *start set to it.
func (p *Parser) scan(f *Flow, start *flow.Handle) bool {
	a := p.arena
	nav := p.nav
	h := f.FirstUnscanned()
	if h == flow.Nil {
		return false
	}
	call := f.IsCall()
	nav.Init(h, a.Get(h).ToParse)

	for {
		h = nav.Packet()
		if h == flow.Nil {
			return false
		}
		fu := f.FirstUnscanned()
		if a.Get(h).Has(flow.FlagScanned) {
			next := f.NextUnscanned(h)
			if fu != flow.Nil && a.Get(fu).Has(flow.FlagScanned) {
				f.SetFirstUnscanned(next)
			}
			if next == flow.Nil {
				return false
			}
			nav.Init(next, a.Get(next).ToParse)
		} else if fu != flow.Nil && a.Get(fu).Has(flow.FlagScanned) {
			f.SetFirstUnscanned(h)
		}

		var (
			back       uint32
			found, ooo bool
		)
		if call {
			back, found, ooo = p.sigs.matchCall(nav)
		} else {
			back, found, ooo = p.sigs.matchReply(nav, f.Reverse.calls)
		}
		if ooo {
			// resume at the packet behind the gap
			if at := nav.Packet(); at != flow.Nil {
				nav.Init(at, a.Get(at).ToParse)
			}
			continue
		}
		if !found {
			continue
		}

		at, idx := nav.Packet(), nav.Index()
		if !nav.Back(back, true) {
			nav.Init(at, idx)
			continue
		}
		hp := nav.Packet()
		pkt := a.Get(hp)
		if nav.Index() < pkt.ToParse {
			// the match overlaps bytes that already belong to a PDU
			nav.Init(at, idx)
			continue
		}
		pkt.Flags |= flow.FlagScanned
		pkt.ToParse = nav.Index()
		*start = hp
		if hp != f.Head() {
			if call {
				p.stats.ScannedCallHeaders++
			} else {
				p.stats.ScannedReplyHeaders++
			}
		}
		if fu := f.FirstUnscanned(); fu != flow.Nil && a.Get(fu).Has(flow.FlagScanned) {
			f.SetFirstUnscanned(f.NextUnscanned(fu))
		}
		return true
	}
}
