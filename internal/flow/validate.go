package flow

import "fmt"

// Validate checks the list invariants: sequence order, out-of-order flags,
// back links, the first-out-of-order marker and the queue length. It is meant
// for tests and debug builds and walks the whole list.
func (d *Descriptor) Validate() error {
	a := d.arena
	if d.head == Nil {
		if d.tail != Nil || d.queueLen != 0 {
			return fmt.Errorf("empty list with tail %d and length %d", d.tail, d.queueLen)
		}
		return nil
	}
	if a.Get(d.head).prev != Nil || a.Get(d.tail).next != Nil {
		return fmt.Errorf("head has prev or tail has next")
	}

	count := 0
	firstOOO := Nil
	prevH := Nil
	for h := d.head; h != Nil; h = a.Get(h).next {
		cur := a.Get(h)
		count++
		if prevH == Nil {
			if cur.Has(FlagOutOfOrder) {
				return fmt.Errorf("head seq %d flagged out of order", cur.Seq)
			}
		} else {
			prev := a.Get(prevH)
			if !SeqAhead(cur.Seq, prev.Seq) {
				return fmt.Errorf("seq %d does not follow %d", cur.Seq, prev.Seq)
			}
			if SeqAhead(prev.End(), cur.Seq) {
				return fmt.Errorf("overlap: %d+%d runs past %d", prev.Seq, prev.PayloadLen, cur.Seq)
			}
			if prev.End() != cur.Seq && !cur.Has(FlagOutOfOrder) {
				return fmt.Errorf("gap before seq %d not flagged out of order", cur.Seq)
			}
			if cur.prev != prevH {
				return fmt.Errorf("broken back link at seq %d", cur.Seq)
			}
		}
		if firstOOO == Nil && cur.Has(FlagOutOfOrder) {
			firstOOO = h
		}
		if count > d.queueLen {
			return fmt.Errorf("list longer than queue length %d", d.queueLen)
		}
		prevH = h
	}
	if prevH != d.tail || count != d.queueLen {
		return fmt.Errorf("walked %d packets ending at %d, want %d ending at %d", count, prevH, d.queueLen, d.tail)
	}
	if firstOOO != d.firstOOO {
		return fmt.Errorf("first out-of-order marker %d, want %d", d.firstOOO, firstOOO)
	}
	return nil
}
