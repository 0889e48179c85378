package rpc

import "firestige.xyz/chronicle/internal/flow"

// Shutdown drains the parser. Every queued packet ends up in a PDU, bad if
// nothing better can be found, every pending call is emitted unmatched, and
// the flow table is emptied. The parser may be reused afterwards.
func (p *Parser) Shutdown() {
	flows := p.table.All()
	for _, f := range flows {
		if f.removed || (f.Head() == flow.Nil && f.Reverse.Head() == flow.Nil) {
			continue
		}
		call, reply := f, f.Reverse
		if f.IsReply() {
			call, reply = f.Reverse, f
		}
		// calls first so that replies find them pending
		if call.Head() != flow.Nil {
			p.drain(call, func(pdu *PDU) { p.insertCall(call, pdu, true) })
		}
		if reply.Head() != flow.Nil {
			p.drain(reply, func(pdu *PDU) { call.insertReady(pdu, 2) })
		}
	}

	for _, f := range flows {
		if f.removed {
			continue
		}
		p.passCalls(f)
		p.passReady(f)
		p.removed.Add(f.Counters)
		f.removed = true
	}
	p.table = flow.NewTable[*Flow](p.cfg.FlowTableBuckets)
	p.gcBucket = 0
}

// drain finds every PDU left in f and turns the remainder into one bad PDU.
func (p *Parser) drain(f *Flow, accept func(*PDU)) {
	var start, retryAt flow.Handle
	for {
		retry := false
		pdu, _ := p.findPDU(f, &start)
		if pdu != nil {
			accept(pdu)
			if start == flow.Nil {
				break
			}
		} else if p.scan(f, &start) {
			if start != retryAt {
				retry = true
				retryAt = start
			}
			// push the scanned prefix towards garbage collection
			f.raiseVisitsThrough(start, p.cfg.GCThresh)
		}
		if !(pdu != nil && f.Head() != flow.Nil) && !retry {
			break
		}
	}
	if h := f.Head(); h != flow.Nil {
		pdu := p.bad(f, h, f.Tail())
		f.ReleaseUpTo(f.Tail(), true)
		p.passBad(pdu)
	}
}
