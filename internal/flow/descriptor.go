// Package flow implements per-direction TCP segment reassembly.
//
// A Descriptor keeps the payload-carrying segments of one flow direction in a
// sequence-ordered doubly linked list whose nodes live in an Arena. All
// sequence comparisons are modulo 2^32; MaxRecvWindow separates a genuine
// wrap-around from a stale or retransmitted segment.
package flow

const (
	// MaxRecvWindow is the largest distance two sequence numbers of the same
	// flow may be apart before the difference is read as a wrap-around.
	MaxRecvWindow uint32 = 1 << 30
	// HeadWindow bounds how far before the head a retransmission may be prepended.
	HeadWindow uint32 = 200000
)

// Counters are per-direction insertion statistics.
type Counters struct {
	Seen                   uint64
	OutOfOrder             uint64
	EmptyAck               uint64
	GoodRetrans            uint64
	BadRetrans             uint64
	WrapGoodRetrans        uint64
	WrapBadRetrans         uint64
	StaleRetrans           uint64
	RecoveredOutOfOrder    uint64
	TailDiscard            uint64
	WrapDiscard            uint64
	MiscDiscard            uint64
	Truncated              uint64
	Dropped                uint64
	BadRetransDuplicate    uint64
	BadRetransNonDuplicate uint64
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Seen += o.Seen
	c.OutOfOrder += o.OutOfOrder
	c.EmptyAck += o.EmptyAck
	c.GoodRetrans += o.GoodRetrans
	c.BadRetrans += o.BadRetrans
	c.WrapGoodRetrans += o.WrapGoodRetrans
	c.WrapBadRetrans += o.WrapBadRetrans
	c.StaleRetrans += o.StaleRetrans
	c.RecoveredOutOfOrder += o.RecoveredOutOfOrder
	c.TailDiscard += o.TailDiscard
	c.WrapDiscard += o.WrapDiscard
	c.MiscDiscard += o.MiscDiscard
	c.Truncated += o.Truncated
	c.Dropped += o.Dropped
	c.BadRetransDuplicate += o.BadRetransDuplicate
	c.BadRetransNonDuplicate += o.BadRetransNonDuplicate
}

// Descriptor is the ordered packet list of one flow direction.
type Descriptor struct {
	Key      Key
	Counters Counters

	arena          *Arena
	head, tail     Handle
	queueLen       int
	started        bool
	maxSeq         uint32
	maxAck         uint32
	firstOOO       Handle
	firstUnscanned Handle
}

// NewDescriptor creates an empty descriptor whose packets live in arena.
func NewDescriptor(key Key, arena *Arena) *Descriptor {
	return &Descriptor{Key: key, arena: arena}
}

func (d *Descriptor) Arena() *Arena           { return d.arena }
func (d *Descriptor) Head() Handle            { return d.head }
func (d *Descriptor) Tail() Handle            { return d.tail }
func (d *Descriptor) Len() int                { return d.queueLen }
func (d *Descriptor) MaxSeq() uint32          { return d.maxSeq }
func (d *Descriptor) Started() bool           { return d.started }
func (d *Descriptor) MaxAck() uint32          { return d.maxAck }
func (d *Descriptor) FirstOutOfOrder() Handle { return d.firstOOO }
func (d *Descriptor) FirstUnscanned() Handle  { return d.firstUnscanned }

// SetFirstUnscanned moves the first-unscanned marker.
func (d *Descriptor) SetFirstUnscanned(h Handle) { d.firstUnscanned = h }

// Insert links the packet at h into the list. It reports whether the packet
// was accepted and whether the caller should parse the flow right away
// because the sequence space wrapped. A rejected packet still belongs to the
// caller.
//
// Every ordering decision is a distance modulo 2^32 bounded by
// MaxRecvWindow, so segments straddling 2^32 behave like any other.
func (d *Descriptor) Insert(h Handle) (accepted, flush bool) {
	pkt := d.arena.Get(h)
	d.Counters.Seen++
	if pkt.PayloadLen == 0 {
		d.Counters.EmptyAck++
		return false, false
	}
	maxIn := pkt.End()

	if !d.started {
		d.started = true
		d.linkFirst(h, pkt)
		return true, false
	}

	switch {
	case maxIn == d.maxSeq:
		if !SeqAtOrBefore(pkt.Ack, d.maxAck) {
			d.maxAck = pkt.Ack
		}
		d.rejectRetransmission(pkt)
		return false, false

	case SeqAhead(d.maxSeq, maxIn):
		wrapped := crossedZero(d.maxSeq, maxIn)
		ok := d.handleRetransmission(h, pkt, maxIn)
		switch {
		case wrapped && ok:
			d.Counters.WrapGoodRetrans++
		case wrapped:
			d.Counters.WrapBadRetrans++
		}
		return ok, false

	case !SeqAhead(maxIn, d.maxSeq):
		// more than a window away in both directions
		if d.head == Nil {
			d.linkFirst(h, pkt)
			return true, false
		}
		d.Counters.WrapBadRetrans++
		d.Counters.BadRetrans++
		return false, false
	}

	// the segment advances the window
	flush = crossedZero(maxIn, d.maxSeq)
	if !d.trimTail(pkt) {
		return false, false
	}
	d.appendTail(h, pkt)
	return true, flush
}

// linkFirst makes pkt the only packet of an empty list.
func (d *Descriptor) linkFirst(h Handle, pkt *Packet) {
	pkt.Flags &^= FlagOutOfOrder
	pkt.prev, pkt.next = Nil, Nil
	d.head, d.tail = h, h
	d.firstOOO = Nil
	d.queueLen++
	d.maxSeq = pkt.End()
	d.maxAck = pkt.Ack
	if d.firstUnscanned == Nil {
		d.firstUnscanned = h
	}
}

// trimTail resolves an overlap between pkt and the tail. The tail is cut
// back to where pkt starts unless it was already parsed past that point.
// It reports whether pkt may still be appended.
func (d *Descriptor) trimTail(pkt *Packet) bool {
	if d.tail == Nil {
		return true
	}
	tail := d.arena.Get(d.tail)
	switch {
	case seqWithin(pkt.Seq, tail.Seq, tail.PayloadLen):
		off := pkt.Seq - tail.Seq
		overlap := tail.PayloadLen - off
		if off == 0 || tail.ToParse >= tail.CapLen-int(overlap) {
			d.Counters.TailDiscard++
			return false
		}
		tail.CapLen -= int(overlap)
		tail.PayloadLen = off
		tail.Flags |= FlagTruncated
		d.maxSeq = pkt.Seq
		d.Counters.Truncated++
	case SeqAhead(tail.Seq, pkt.Seq):
		// covers more than the tail
		d.Counters.WrapDiscard++
		return false
	}
	return true
}

// appendTail links pkt after the tail. pkt ends past maxSeq.
func (d *Descriptor) appendTail(h Handle, pkt *Packet) {
	if d.tail == Nil {
		if d.maxSeq != pkt.Seq {
			d.Counters.OutOfOrder++
		}
		d.linkFirst(h, pkt)
		return
	}
	tail := d.arena.Get(d.tail)
	gap := tail.End() != pkt.Seq
	if gap {
		d.Counters.OutOfOrder++
	}
	tail.next = h
	pkt.prev, pkt.next = d.tail, Nil
	if gap {
		pkt.Flags |= FlagOutOfOrder
		if d.firstOOO == Nil {
			d.firstOOO = h
		}
	} else {
		pkt.Flags &^= FlagOutOfOrder
	}
	d.tail = h
	d.queueLen++
	d.maxSeq = pkt.End()
	d.maxAck = pkt.Ack
	if d.firstUnscanned == Nil {
		d.firstUnscanned = h
	}
}

// handleRetransmission places a segment ending at or before maxSeq: before
// the head, or into one of the holes.
func (d *Descriptor) handleRetransmission(h Handle, pkt *Packet, maxIn uint32) bool {
	a := d.arena
	if d.head != Nil {
		head := a.Get(d.head)
		if SeqAtOrBefore(maxIn, head.Seq) {
			if head.Seq-pkt.Seq >= HeadWindow {
				d.Counters.BadRetrans++
				d.Counters.StaleRetrans++
				return false
			}
			if maxIn != head.Seq {
				head.Flags |= FlagOutOfOrder
				d.firstOOO = d.head
			}
			pkt.Flags &^= FlagOutOfOrder
			pkt.prev, pkt.next = Nil, d.head
			pkt.Visits = head.Visits
			pkt.Flags |= FlagRetransmitted
			head.prev = h
			if pkt.Timestamp.Equal(head.Timestamp) {
				d.Counters.RecoveredOutOfOrder++
			}
			d.head = h
			d.queueLen++
			d.Counters.GoodRetrans++
			d.firstUnscanned = h
			return true
		}
	}

	for hole := d.firstOOO; hole != Nil; hole = d.NextOutOfOrder(hole) {
		if d.insertInHole(h, pkt, hole) {
			d.Counters.GoodRetrans++
			pkt.Flags |= FlagRetransmitted
			if next := a.Get(pkt.next); pkt.Timestamp.Equal(next.Timestamp) {
				d.Counters.RecoveredOutOfOrder++
			}
			d.queueLen++
			if d.firstUnscanned == Nil || SeqAtOrBefore(pkt.Seq, a.Get(d.firstUnscanned).Seq) {
				d.firstUnscanned = h
			}
			return true
		}
		// later holes lie further ahead
		if SeqAhead(a.Get(hole).Seq, pkt.Seq) {
			break
		}
	}
	d.rejectRetransmission(pkt)
	return false
}

func (d *Descriptor) rejectRetransmission(pkt *Packet) {
	d.Counters.BadRetrans++
	if d.findDuplicate(pkt) {
		d.Counters.BadRetransDuplicate++
	} else {
		d.Counters.BadRetransNonDuplicate++
	}
}

// insertInHole tries to link pkt right before the out-of-order packet ooo.
// Partial overlaps are resolved by truncating whichever neighbour has not
// been parsed past the overlapping bytes.
func (d *Descriptor) insertInHole(h Handle, pkt *Packet, ooo Handle) bool {
	a := d.arena
	o := a.Get(ooo)
	if o.prev == Nil {
		return false
	}
	prevH := o.prev
	prev := a.Get(prevH)

	switch {
	case SeqAtOrBefore(pkt.End(), o.Seq) && SeqAtOrBefore(prev.End(), pkt.Seq):
		// clean fit
	case SeqAhead(pkt.Seq, prev.Seq) && SeqAhead(o.Seq, pkt.Seq):
		var prevOverlap uint32
		if SeqAhead(prev.End(), pkt.Seq) {
			prevOverlap = prev.End() - pkt.Seq
			if prev.ToParse >= prev.CapLen-int(prevOverlap) {
				d.Counters.MiscDiscard++
				return false
			}
		}
		if SeqAhead(pkt.End(), o.Seq) {
			excess := pkt.End() - o.Seq
			pkt.CapLen -= int(excess)
			pkt.PayloadLen = o.Seq - pkt.Seq
			pkt.Flags |= FlagTruncated
			d.Counters.Truncated++
		}
		if prevOverlap > 0 {
			prev.CapLen -= int(prevOverlap)
			prev.PayloadLen = pkt.Seq - prev.Seq
			prev.Flags |= FlagTruncated
			d.Counters.Truncated++
		}
	default:
		return false
	}

	prev.next = h
	pkt.prev = prevH
	o.prev = h
	pkt.next = ooo
	pkt.Visits = o.Visits

	pkt.Flags &^= FlagOutOfOrder
	if prev.End() != pkt.Seq {
		pkt.Flags |= FlagOutOfOrder
		if d.firstOOO == ooo {
			d.firstOOO = h
		}
	}
	if pkt.End() == o.Seq {
		o.Flags &^= FlagOutOfOrder
		if d.firstOOO == ooo {
			d.firstOOO = d.NextOutOfOrder(ooo)
		}
	}
	return true
}

// findDuplicate reports whether a packet with the same range is already queued.
func (d *Descriptor) findDuplicate(pkt *Packet) bool {
	a := d.arena
	for h := d.head; h != Nil; {
		p := a.Get(h)
		if SeqAtOrBefore(pkt.Seq, p.Seq) {
			return p.Seq == pkt.Seq && p.PayloadLen == pkt.PayloadLen
		}
		h = p.next
	}
	return false
}

// NextOutOfOrder returns the first out-of-order packet after h.
func (d *Descriptor) NextOutOfOrder(h Handle) Handle {
	a := d.arena
	for h = a.Get(h).next; h != Nil; h = a.Get(h).next {
		if a.Get(h).Has(FlagOutOfOrder) {
			return h
		}
	}
	return Nil
}

// NextUnscanned returns the first packet after h not yet scanned for a header.
func (d *Descriptor) NextUnscanned(h Handle) Handle {
	a := d.arena
	for h = a.Get(h).next; h != Nil; h = a.Get(h).next {
		if !a.Get(h).Has(FlagScanned) {
			return h
		}
	}
	return Nil
}
