package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/chronicle/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	protocolTCP      = 6

	flagDontFragment = 0x4000
)

// decodeIPv4 fills the addresses of h and returns the offset and declared
// length of the TCP segment.
func decodeIPv4(frame []byte, off int, h *Header) (int, int, error) {
	ip := frame[off:]
	if len(ip) < ipv4HeaderMinLen {
		return 0, 0, core.ErrPacketTooShort
	}
	if ip[0]>>4 != 4 {
		return 0, 0, core.ErrUnsupportedProto
	}
	headerLen := int(ip[0]&0x0f) * 4
	if headerLen < ipv4HeaderMinLen || len(ip) < headerLen {
		return 0, 0, core.ErrPacketTooShort
	}
	if isFragment(ip) {
		return 0, 0, core.ErrFragmented
	}
	if ip[9] != protocolTCP {
		return 0, 0, core.ErrNotTCP
	}

	totalLen := int(binary.BigEndian.Uint16(ip[2:4]))
	if totalLen < headerLen {
		return 0, 0, core.ErrPacketTooShort
	}
	h.SrcIP = netip.AddrFrom4([4]byte(ip[12:16]))
	h.DstIP = netip.AddrFrom4([4]byte(ip[16:20]))
	return off + headerLen, totalLen - headerLen, nil
}

// isFragment reports whether any bit besides DF is set in the flags and
// fragment offset field.
func isFragment(ip []byte) bool {
	return binary.BigEndian.Uint16(ip[6:8])&^flagDontFragment != 0
}
