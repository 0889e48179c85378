package flow

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Key identifies one direction of a TCP connection.
type Key struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the key of the opposite direction.
func (k Key) Reverse() Key {
	return Key{SrcIP: k.DstIP, DstIP: k.SrcIP, SrcPort: k.DstPort, DstPort: k.SrcPort}
}

// Canonical orders the endpoints so that both directions of a connection
// produce the same bytes. The lower address goes first.
func (k Key) Canonical() [36]byte {
	a, b := k.SrcIP.As16(), k.DstIP.As16()
	ap, bp := k.SrcPort, k.DstPort
	if c := k.SrcIP.Compare(k.DstIP); c > 0 || (c == 0 && ap > bp) {
		a, b = b, a
		ap, bp = bp, ap
	}
	var buf [36]byte
	copy(buf[0:16], a[:])
	copy(buf[16:32], b[:])
	binary.BigEndian.PutUint16(buf[32:34], ap)
	binary.BigEndian.PutUint16(buf[34:36], bp)
	return buf
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d-%s:%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}
