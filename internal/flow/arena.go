package flow

// Handle addresses a packet slot in an Arena. Nil is never a valid slot.
type Handle uint32

// Nil is the "no packet" handle.
const Nil Handle = 0

const (
	chunkShift = 12
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1
)

// Buffer is the pooled frame a packet record points into.
type Buffer interface {
	Bytes() []byte
	Retain()
	Release()
}

// Arena owns every packet record of one shard. Slots are addressed by stable
// handles and carry an explicit reference count: one reference for flow list
// membership or PDU span ownership, plus one per additional PDU that shares the
// packet. The buffer goes back to the pool when the count reaches zero.
//
// An Arena is not safe for concurrent use.
type Arena struct {
	chunks [][]Packet
	free   []Handle
	next   Handle
	live   int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{next: 1}
}

// Alloc copies p into a fresh slot holding one reference.
func (a *Arena) Alloc(p Packet) Handle {
	var h Handle
	if n := len(a.free); n > 0 {
		h = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		h = a.next
		a.next++
		if int(h>>chunkShift) >= len(a.chunks) {
			a.chunks = append(a.chunks, make([]Packet, chunkSize))
		}
	}
	p.prev, p.next = Nil, Nil
	p.refs = 1
	*a.Get(h) = p
	a.live++
	return h
}

// Get returns the packet stored at h.
func (a *Arena) Get(h Handle) *Packet {
	return &a.chunks[h>>chunkShift][h&chunkMask]
}

// Next returns the handle linked after h.
func (a *Arena) Next(h Handle) Handle {
	return a.Get(h).next
}

// Prev returns the handle linked before h.
func (a *Arena) Prev(h Handle) Handle {
	return a.Get(h).prev
}

// Retain adds a reference to h.
func (a *Arena) Retain(h Handle) {
	a.Get(h).refs++
}

// Release drops a reference to h and frees the slot when none remain.
func (a *Arena) Release(h Handle) {
	p := a.Get(h)
	p.refs--
	switch {
	case p.refs > 0:
		return
	case p.refs < 0:
		panic("flow: packet released more times than retained")
	}
	if p.Buf != nil {
		p.Buf.Release()
	}
	*p = Packet{}
	a.free = append(a.free, h)
	a.live--
}

// Refs returns the reference count of h.
func (a *Arena) Refs(h Handle) int {
	return int(a.Get(h).refs)
}

// Live returns the number of occupied slots.
func (a *Arena) Live() int {
	return a.live
}
