package decoder

import (
	"encoding/binary"

	"firestige.xyz/chronicle/internal/core"
)

const tcpHeaderMinLen = 20

// decodeTCP fills the ports, sequence numbers and payload bounds of h.
// segLen is the segment length declared by the IP header.
func decodeTCP(frame []byte, off, segLen int, origLen uint32, h *Header) error {
	tcp := frame[off:]
	if len(tcp) < tcpHeaderMinLen || segLen < tcpHeaderMinLen {
		return core.ErrPacketTooShort
	}
	headerLen := int(tcp[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || headerLen > segLen || len(tcp) < headerLen {
		return core.ErrPacketTooShort
	}

	h.SrcPort = binary.BigEndian.Uint16(tcp[0:2])
	h.DstPort = binary.BigEndian.Uint16(tcp[2:4])
	h.Seq = binary.BigEndian.Uint32(tcp[4:8])
	h.Ack = binary.BigEndian.Uint32(tcp[8:12])
	h.PayloadOffset = off + headerLen

	payloadLen := segLen - headerLen
	if h.PayloadOffset+payloadLen > len(frame) {
		// a snap length cut the frame short; keep the captured part
		if int(origLen) <= len(frame) {
			return core.ErrPacketTooShort
		}
		payloadLen = len(frame) - h.PayloadOffset
		h.Truncated = true
	}
	h.PayloadLen = uint32(payloadLen)
	return nil
}
