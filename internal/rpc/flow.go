package rpc

import "firestige.xyz/chronicle/internal/flow"

// Flow is one direction of an RPC connection: the reassembly list plus the
// calls waiting for replies and the PDUs ready to be emitted. Pairs and
// unmatched calls collect on the call direction.
type Flow struct {
	*flow.Descriptor
	Reverse *Flow

	calls     *callTable
	ready     []*PDU
	readySize int
	removed   bool
}

func newFlow(key flow.Key, a *flow.Arena) *Flow {
	return &Flow{
		Descriptor: flow.NewDescriptor(key, a),
		calls:      newCallTable(),
	}
}

// PendingCalls returns the number of calls waiting for a reply.
func (f *Flow) PendingCalls() int { return f.calls.Len() }

// ReadySize returns the number of PDUs waiting to be emitted.
func (f *Flow) ReadySize() int { return f.readySize }

// IsReply reports whether the flow leaves the server side of its connection.
// Exactly one direction of every connection is the reply side: the one whose
// source port ranks higher as a server port, with the endpoints breaking ties.
func (f *Flow) IsReply() bool {
	src, dst := serverRank(f.Key.SrcPort), serverRank(f.Key.DstPort)
	if src != dst {
		return src > dst
	}
	c := f.Key.SrcIP.Compare(f.Key.DstIP)
	return c > 0 || (c == 0 && f.Key.SrcPort > f.Key.DstPort)
}

// IsCall reports whether the flow carries calls.
func (f *Flow) IsCall() bool { return !f.IsReply() }

func serverRank(port uint16) int {
	switch port {
	case NFSPort:
		return 2
	case SunRPCPort:
		return 1
	}
	return 0
}

func (f *Flow) insertReady(pdu *PDU, n int) {
	f.ready = append(f.ready, pdu)
	f.readySize += n
}

// raiseVisits lifts the first n packets to at least v, stopping at the first
// packet already there.
func (f *Flow) raiseVisits(n int, v uint16) {
	a := f.Arena()
	h := f.Head()
	for i := 0; h != flow.Nil && i < n; i++ {
		p := a.Get(h)
		if p.Visits >= v {
			return
		}
		p.Visits = v
		h = a.Next(h)
	}
}

// raiseVisitsThrough lifts every packet from the head through last to at
// least v.
func (f *Flow) raiseVisitsThrough(last flow.Handle, v uint16) {
	if last == flow.Nil {
		return
	}
	a := f.Arena()
	for h := f.Head(); h != flow.Nil; h = a.Next(h) {
		if p := a.Get(h); p.Visits < v {
			p.Visits = v
		}
		if h == last {
			return
		}
	}
}
