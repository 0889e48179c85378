package rpc

import (
	"time"

	"firestige.xyz/chronicle/internal/flow"
)

// sweep revisits flow table buckets in rotation, one bucket per elapsed
// second of capture time since the last sweep and at most GCMaxBuckets.
func (p *Parser) sweep(now time.Time) {
	elapsed := now.Sub(p.gcTick)
	if elapsed < 0 {
		return
	}
	n := int(elapsed / time.Second)
	if n > p.cfg.GCMaxBuckets {
		n = p.cfg.GCMaxBuckets
	}
	if n == 0 {
		return
	}
	mask := p.table.NumBuckets() - 1
	for i := 0; i < n; i++ {
		// calls are handled through their reply flow
		for _, f := range p.table.BucketValues(p.gcBucket) {
			if f.removed || !f.IsReply() {
				continue
			}
			p.sweepPair(f.Reverse, f, now)
		}
		p.gcBucket = (p.gcBucket + 1) & mask
	}
	p.gcTick = now
}

// sweepPair parses both directions of a connection, evicts what aged out and
// removes the pair once nothing is left in it.
func (p *Parser) sweepPair(call, reply *Flow, now time.Time) {
	cutoff := now.Add(-p.cfg.FlowTimeWindow)

	p.parseFlow(call, reply)
	if call.Head() != flow.Nil {
		p.gcByTime(call, cutoff)
	}
	p.parseFlow(reply, call)
	if reply.Head() != flow.Nil {
		p.gcByTime(reply, cutoff)
	}
	p.gcCalls(call, now)

	if call.Head() != flow.Nil || reply.Head() != flow.Nil || call.calls.Len() > 0 {
		return
	}
	p.passReady(call)
	p.passReady(reply)
	p.removed.Add(call.Counters)
	p.removed.Add(reply.Counters)
	p.table.Remove(p.table.Bucket(call.Key), call.Key)
	p.table.Remove(p.table.Bucket(reply.Key), reply.Key)
	call.removed, reply.removed = true, true
}
