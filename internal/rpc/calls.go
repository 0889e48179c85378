package rpc

import "container/list"

// callTable keeps pending calls indexed by XID and ordered by insertion.
type callTable struct {
	byXID map[uint32]*list.Element
	fifo  list.List
}

func newCallTable() *callTable {
	return &callTable{byXID: make(map[uint32]*list.Element)}
}

func (t *callTable) Len() int { return len(t.byXID) }

// push appends pdu. It refuses a second call with the same XID.
func (t *callTable) push(pdu *PDU) bool {
	if _, ok := t.byXID[pdu.XID]; ok {
		return false
	}
	t.byXID[pdu.XID] = t.fifo.PushBack(pdu)
	return true
}

func (t *callTable) has(xid uint32) bool {
	_, ok := t.byXID[xid]
	return ok
}

// take removes and returns the call with xid, nil when there is none.
func (t *callTable) take(xid uint32) *PDU {
	e, ok := t.byXID[xid]
	if !ok {
		return nil
	}
	delete(t.byXID, xid)
	return t.fifo.Remove(e).(*PDU)
}

func (t *callTable) front() *PDU {
	if e := t.fifo.Front(); e != nil {
		return e.Value.(*PDU)
	}
	return nil
}

func (t *callTable) popFront() *PDU {
	e := t.fifo.Front()
	if e == nil {
		return nil
	}
	pdu := t.fifo.Remove(e).(*PDU)
	delete(t.byXID, pdu.XID)
	return pdu
}
