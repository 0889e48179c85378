package flow

// The release operations unlink packets from the list without dropping their
// arena references: ownership of every unlinked packet moves to the caller,
// usually a PDU span. Markers pointing into the removed range advance to the
// next eligible packet that is still linked.

func (d *Descriptor) forget(h Handle) {
	if h == d.firstOOO {
		d.firstOOO = d.NextOutOfOrder(h)
	}
	if h == d.firstUnscanned {
		d.firstUnscanned = d.NextUnscanned(h)
	}
	d.queueLen--
}

func (d *Descriptor) setHead(h Handle) {
	if h == Nil {
		d.head, d.tail = Nil, Nil
		return
	}
	p := d.arena.Get(h)
	p.prev = Nil
	p.Flags &^= FlagOutOfOrder
	d.head = h
	if d.firstOOO == h {
		d.firstOOO = d.NextOutOfOrder(h)
	}
}

// ReleaseCount unlinks up to n packets from the head and returns the first one.
func (d *Descriptor) ReleaseCount(n int) Handle {
	first := d.head
	h := d.head
	for i := 0; h != Nil && i < n; i++ {
		d.forget(h)
		h = d.arena.Get(h).next
	}
	d.setHead(h)
	return first
}

// ReleaseUpTo unlinks every packet from the head up to last, and last itself
// when inclusive. It returns the former head.
func (d *Descriptor) ReleaseUpTo(last Handle, inclusive bool) Handle {
	a := d.arena
	first := d.head
	h := d.head
	for h != Nil && h != last {
		d.forget(h)
		h = a.Get(h).next
	}
	switch {
	case h == Nil:
		d.setHead(Nil)
	case inclusive:
		d.forget(h)
		d.setHead(a.Get(h).next)
	default:
		d.setHead(h)
	}
	return first
}

// ReleaseRange unlinks the contiguous range first..last. When last is kept it
// becomes adjacent to the packet before first and is flagged out of order.
func (d *Descriptor) ReleaseRange(first, last Handle, inclusive bool) Handle {
	if first == d.head {
		return d.ReleaseUpTo(last, inclusive)
	}
	if first == last && !inclusive {
		return first
	}
	a := d.arena
	prevH := a.Get(first).prev
	prev := a.Get(prevH)

	h := first
	for h != Nil && h != last {
		d.forget(h)
		h = a.Get(h).next
	}
	if h == Nil {
		d.tail = prevH
		prev.next = Nil
		return first
	}
	if inclusive {
		d.forget(h)
		next := a.Get(h).next
		prev.next = next
		if next == Nil {
			d.tail = prevH
		} else {
			a.Get(next).prev = prevH
		}
	} else {
		prev.next = h
		a.Get(h).prev = prevH
	}
	if prev.next != Nil {
		adj := prev.next
		if d.firstOOO == Nil || a.Get(d.firstOOO).Seq-a.Get(adj).Seq < MaxRecvWindow {
			d.firstOOO = adj
		}
		a.Get(adj).Flags |= FlagOutOfOrder
	}
	return first
}
