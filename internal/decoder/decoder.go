// Package decoder parses the Ethernet, IPv4 and TCP headers of captured frames.
package decoder

import (
	"net/netip"

	"firestige.xyz/chronicle/internal/core"
)

// MaxPayload is the largest TCP payload accepted from one frame.
const MaxPayload = 9216

// Header locates the TCP payload of one frame. Offsets are relative to the
// first byte of the frame.
type Header struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32

	PayloadOffset int
	PayloadLen    uint32

	// Truncated is set when the capture cut off part of the payload.
	Truncated bool
}

// Decode parses frame, whose length on the wire was origLen. Frames that
// are not unfragmented IPv4 TCP segments are rejected with a core sentinel
// error.
func Decode(frame []byte, origLen uint32) (Header, error) {
	var h Header

	off, err := decodeEthernet(frame)
	if err != nil {
		return h, err
	}
	tcpOff, segLen, err := decodeIPv4(frame, off, &h)
	if err != nil {
		return h, err
	}
	if err := decodeTCP(frame, tcpOff, segLen, origLen, &h); err != nil {
		return h, err
	}
	if h.PayloadLen > MaxPayload {
		return h, core.ErrPayloadTooLarge
	}
	return h, nil
}
