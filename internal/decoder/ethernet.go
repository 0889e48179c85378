package decoder

import (
	"encoding/binary"

	"firestige.xyz/chronicle/internal/core"
)

const (
	ethernetHeaderLen = 14
	ethernetMTU       = 1500
	snapHeaderLen     = 6

	etherTypeMin  = 0x0600
	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet returns the offset of the IPv4 header. One 802.1Q tag or
// one 802.1ad tag pair is skipped, and 802.3 frames are accepted when they
// carry an RFC 1042 SNAP header.
func decodeEthernet(frame []byte) (int, error) {
	if len(frame) < ethernetHeaderLen {
		return 0, core.ErrPacketTooShort
	}
	typeOff := 12
	switch binary.BigEndian.Uint16(frame[typeOff:]) {
	case etherTypeVLAN:
		typeOff += 4
	case etherTypeQinQ:
		typeOff += 8
	}
	if len(frame) < typeOff+2 {
		return 0, core.ErrPacketTooShort
	}

	etherType := binary.BigEndian.Uint16(frame[typeOff:])
	switch {
	case etherType <= ethernetMTU:
		// 802.3 length field; the type sits behind the LLC/SNAP header
		llc := frame[typeOff+2:]
		if len(llc) < snapHeaderLen+2 || !isRFC1042(llc) {
			return 0, core.ErrUnsupportedProto
		}
		typeOff += 2 + snapHeaderLen
		etherType = binary.BigEndian.Uint16(frame[typeOff:])
	case etherType <= etherTypeMin:
		return 0, core.ErrUnsupportedProto
	}
	if etherType != etherTypeIPv4 {
		return 0, core.ErrUnsupportedProto
	}
	return typeOff + 2, nil
}

// isRFC1042 matches an LLC SNAP header with a zero OUI.
func isRFC1042(b []byte) bool {
	return (b[0] == 0xaa || b[0] == 0xab) &&
		(b[1] == 0xaa || b[1] == 0xab) &&
		b[3] == 0 && b[4] == 0 && b[5] == 0
}
