// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by every stage of the capture path.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("chronicle: packet too short")
	ErrUnsupportedProto = errors.New("chronicle: unsupported protocol")
	ErrFragmented       = errors.New("chronicle: fragmented ip datagram")
	ErrNotTCP           = errors.New("chronicle: not a tcp segment")
	ErrPayloadTooLarge  = errors.New("chronicle: payload exceeds jumbo frame")

	// Buffer pool errors
	ErrPoolExhausted  = errors.New("chronicle: buffer pool exhausted")
	ErrBufferTooLarge = errors.New("chronicle: frame larger than largest buffer class")

	// Pipeline errors
	ErrPipelineStopped = errors.New("chronicle: pipeline stopped")

	// Plugin errors
	ErrSinkClosed     = errors.New("chronicle: sink closed")
	ErrUnknownSink    = errors.New("chronicle: unknown sink type")
	ErrUnknownSource  = errors.New("chronicle: unknown source type")
	ErrPluginInitFail = errors.New("chronicle: plugin init failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("chronicle: invalid configuration")
)
