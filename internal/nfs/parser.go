package nfs

import (
	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/flow"
	"firestige.xyz/chronicle/internal/rpc"
)

// Counts are the operation counters of one Parser.
type Counts struct {
	Calls      [ProcCount]uint64 // calls seen per procedure
	Parsable   uint64
	Unparsable uint64
	Failed     uint64 // replies whose RPC was not accepted
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	for i := range c.Calls {
		c.Calls[i] += o.Calls[i]
	}
	c.Parsable += o.Parsable
	c.Unparsable += o.Unparsable
	c.Failed += o.Failed
}

// Op returns the number of calls seen for proc.
func (c *Counts) Op(proc uint32) uint64 {
	if int(proc) < ProcCount {
		return c.Calls[proc]
	}
	return 0
}

// Parser fills the NFSv3 payload of PDUs from the packets they span.
// It must only be used from the goroutine that owns the arena.
type Parser struct {
	arena  *flow.Arena
	counts Counts
}

// NewParser returns a parser reading packets from a.
func NewParser(a *flow.Arena) *Parser {
	return &Parser{arena: a}
}

// Counts returns a snapshot of the operation counters.
func (p *Parser) Counts() Counts { return p.counts }

// Parse decodes every PDU chained from pdu. A call and its reply share one
// core.NFSv3, which is parsable only when both decoded cleanly.
func (p *Parser) Parse(pdu *rpc.PDU) {
	var fields *core.NFSv3
	for q := pdu; q != nil; q = q.Next {
		switch q.Payload.Family {
		case rpc.FamilyNFSv3:
			if fields == nil {
				fields = &core.NFSv3{
					Procedure: q.Procedure,
					ProcName:  ProcName(q.Procedure),
					Parsable:  true,
				}
			}
			q.Payload.NFSv3 = fields
			if p.parse(q, fields) {
				p.counts.Parsable++
			} else {
				p.counts.Unparsable++
				fields.Parsable = false
			}
		case rpc.FamilyNone:
		}
	}
}

func (p *Parser) parse(pdu *rpc.PDU, v *core.NFSv3) bool {
	if pdu.AcceptState != 0 {
		p.counts.Failed++
		return false
	}
	if pdu.Verdict != core.VerdictComplete || int(pdu.Procedure) >= ProcCount {
		return false
	}

	proc := procedures[pdu.Procedure]
	decode := proc.reply
	if pdu.Direction() == core.DirectionCall {
		p.counts.Calls[pdu.Procedure]++
		decode = proc.call
	}
	if decode == nil {
		return true
	}
	d := &decoder{r: rpc.NewReader(p.arena, pdu), ok: true}
	decode(d, v)
	return d.ok
}
