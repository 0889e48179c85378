package rpc

import (
	"encoding/binary"
	"math"

	"firestige.xyz/chronicle/internal/flow"
)

// Cursor reads big-endian words across the linked packets of a flow. It
// stops at the end of the list and at out-of-order packets, since the bytes
// behind a gap are not contiguous with the bytes before it.
//
// In scan mode the cursor marks packets it has fully walked past as scanned
// and does not touch visit counts. Otherwise every packet entered gets its
// visit count raised.
type Cursor struct {
	arena  *flow.Arena
	pkt    flow.Handle
	start  flow.Handle
	p      *flow.Packet
	index  int
	length int
	parsed int
}

// NewCursor returns a cursor over packets stored in a.
func NewCursor(a *flow.Arena) *Cursor {
	return &Cursor{arena: a}
}

// Init positions the cursor at index of packet h. The cursor cannot go back
// past h.
func (c *Cursor) Init(h flow.Handle, index int) bool {
	c.pkt, c.start = h, h
	c.parsed = 0
	if h == flow.Nil {
		c.p = nil
		return false
	}
	c.p = c.arena.Get(h)
	c.length = c.p.CapLen
	c.index = index
	return index <= c.length
}

// Packet returns the current packet, flow.Nil once the list ran out.
func (c *Cursor) Packet() flow.Handle { return c.pkt }

// Index returns the frame offset of the next byte.
func (c *Cursor) Index() int { return c.index }

// Parsed returns the bytes consumed since Init.
func (c *Cursor) Parsed() int { return c.parsed }

func (c *Cursor) left() int {
	if n := c.length - c.index; n > 0 {
		return n
	}
	return 0
}

// Uint32 reads one word.
func (c *Cursor) Uint32(scan bool) (uint32, bool) {
	if c.p == nil {
		return 0, false
	}
	left := c.left()
	if left >= 4 {
		v := binary.BigEndian.Uint32(c.p.Data[c.index:])
		c.index += 4
		c.parsed += 4
		return v, true
	}
	var tmp [4]byte
	if left > 0 {
		copy(tmp[:], c.p.Data[c.index:c.length])
		c.index = c.length
		c.parsed += left
	}
	if !c.advance(scan) {
		return 0, false
	}
	if !c.Bytes(tmp[left:], scan) {
		return 0, false
	}
	return binary.BigEndian.Uint32(tmp[:]), true
}

// Uint64 reads two words, most significant first.
func (c *Cursor) Uint64(scan bool) (uint64, bool) {
	hi, ok := c.Uint32(scan)
	if !ok {
		return 0, false
	}
	lo, ok := c.Uint32(scan)
	if !ok {
		return 0, false
	}
	return uint64(hi)<<32 | uint64(lo), true
}

// Bytes fills dst. It fails without moving when the list ends first.
func (c *Cursor) Bytes(dst []byte, scan bool) bool {
	if c.p == nil {
		return false
	}
	off, need := 0, len(dst)
	for need > 0 {
		left := c.left()
		if left >= need {
			copy(dst[off:], c.p.Data[c.index:c.index+need])
			c.index += need
			c.parsed += len(dst)
			return true
		}
		if c.arena.Next(c.pkt) == flow.Nil {
			return false
		}
		if left > 0 {
			copy(dst[off:], c.p.Data[c.index:c.length])
			off += left
			need -= left
		}
		if !c.advance(scan) {
			return false
		}
	}
	return true
}

// Skip moves forward n bytes.
func (c *Cursor) Skip(n uint64, scan bool) bool {
	if n == 0 {
		return true
	}
	if c.p == nil {
		return false
	}
	need := n
	for {
		left := uint64(c.left())
		if left >= need {
			c.index += int(need)
			c.parsed += int(n)
			return true
		}
		if c.arena.Next(c.pkt) == flow.Nil {
			return false
		}
		need -= left
		if !c.advance(scan) {
			return false
		}
	}
}

// Back moves backward n bytes, never before the payload of the packet the
// cursor was initialised at.
func (c *Cursor) Back(n uint32, scan bool) bool {
	if n == 0 {
		return true
	}
	if c.p == nil {
		return false
	}
	need := int(n)
	for {
		left := c.index - c.p.PayloadOffset
		if left >= need {
			c.index -= need
			c.parsed -= int(n)
			return true
		}
		need -= left
		if scan {
			c.p.Flags &^= flow.FlagScanned
		}
		if !c.backToPrev() {
			return false
		}
	}
}

func (c *Cursor) advance(scan bool) bool {
	next := c.arena.Next(c.pkt)
	if scan && next != flow.Nil && !c.arena.Get(next).Has(flow.FlagOutOfOrder) {
		c.p.Flags |= flow.FlagScanned
	}
	from := c.p
	c.pkt = next
	if next == flow.Nil {
		c.p = nil
		return false
	}
	c.p = c.arena.Get(next)
	c.length = c.p.CapLen
	c.index = c.p.PayloadOffset
	if c.p.Has(flow.FlagOutOfOrder) {
		return false
	}
	if !scan {
		if from.Visits > c.p.Visits {
			c.p.Visits = from.Visits
		} else {
			visit(c.p)
		}
	}
	return true
}

func (c *Cursor) backToPrev() bool {
	if c.p.Has(flow.FlagOutOfOrder) || c.pkt == c.start {
		return false
	}
	prev := c.arena.Prev(c.pkt)
	if prev == flow.Nil {
		return false
	}
	c.pkt = prev
	c.p = c.arena.Get(prev)
	c.length = c.p.CapLen
	c.index = c.length
	return true
}

func visit(p *flow.Packet) {
	if p.Visits < math.MaxUint16 {
		p.Visits++
	}
}

// Reader reads the program part of a detached PDU. It is bounded by the
// PDU's last packet and end offset and walks the span without regard to
// out-of-order flags.
type Reader struct {
	arena  *flow.Arena
	pdu    *PDU
	pkt    flow.Handle
	p      *flow.Packet
	index  int
	length int
}

// NewReader returns a reader positioned at the program data of pdu.
func NewReader(a *flow.Arena, pdu *PDU) *Reader {
	r := &Reader{arena: a}
	r.Init(pdu, pdu.ProgOffset, flow.Nil)
	return r
}

// Init positions the reader at index of packet h, or of the PDU's first
// program packet when h is flow.Nil.
func (r *Reader) Init(pdu *PDU, index int, h flow.Handle) bool {
	r.pdu = pdu
	if h == flow.Nil {
		h = pdu.ProgFirst
	}
	r.pkt = h
	if h == flow.Nil {
		r.p = nil
		return false
	}
	r.p = r.arena.Get(h)
	r.length = r.p.CapLen
	r.index = index
	return index <= r.length
}

// Offset returns the frame offset of the next byte.
func (r *Reader) Offset() int { return r.index }

func (r *Reader) left() int {
	var n int
	if r.pkt != r.pdu.Last {
		n = r.length - r.index
	} else {
		n = r.pdu.ProgEnd - r.index + 1
	}
	if n < 0 {
		return 0
	}
	return n
}

func (r *Reader) atLast() bool { return r.pkt == r.pdu.Last }

func (r *Reader) advance() {
	r.pkt = r.arena.Next(r.pkt)
	r.p = r.arena.Get(r.pkt)
	r.length = r.p.CapLen
	r.index = r.p.PayloadOffset
}

// Uint32 reads one word.
func (r *Reader) Uint32() (uint32, bool) {
	if r.p == nil {
		return 0, false
	}
	left := r.left()
	if left >= 4 {
		v := binary.BigEndian.Uint32(r.p.Data[r.index:])
		r.index += 4
		return v, true
	}
	if r.atLast() {
		return 0, false
	}
	var tmp [4]byte
	if left > 0 {
		copy(tmp[:], r.p.Data[r.index:r.index+left])
	}
	r.advance()
	if !r.Bytes(tmp[left:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(tmp[:]), true
}

// Uint64 reads an XDR hyper.
func (r *Reader) Uint64() (uint64, bool) {
	hi, ok := r.Uint32()
	if !ok {
		return 0, false
	}
	lo, ok := r.Uint32()
	if !ok {
		return 0, false
	}
	return uint64(hi)<<32 | uint64(lo), true
}

// Bytes fills dst.
func (r *Reader) Bytes(dst []byte) bool {
	if r.p == nil {
		return false
	}
	off, need := 0, len(dst)
	for need > 0 {
		left := r.left()
		if left >= need {
			copy(dst[off:], r.p.Data[r.index:r.index+need])
			r.index += need
			return true
		}
		if r.atLast() {
			return false
		}
		if left > 0 {
			copy(dst[off:], r.p.Data[r.index:r.index+left])
			off += left
			need -= left
		}
		r.advance()
	}
	return true
}

// Skip moves forward n bytes.
func (r *Reader) Skip(n uint64) bool {
	if r.p == nil {
		return false
	}
	need := n
	for need > 0 {
		left := uint64(r.left())
		if left >= need {
			r.index += int(need)
			return true
		}
		if r.atLast() {
			return false
		}
		need -= left
		r.advance()
	}
	return true
}

// Opaque reads XDR variable-length opaque data of at most max bytes,
// consuming the padding that follows it.
func (r *Reader) Opaque(max uint32) ([]byte, bool) {
	n, ok := r.Uint32()
	if !ok || n > max {
		return nil, false
	}
	buf := make([]byte, n)
	if !r.Bytes(buf) {
		return nil, false
	}
	if pad := xdrPad(n) - uint64(n); pad > 0 && !r.Skip(pad) {
		return nil, false
	}
	return buf, true
}
