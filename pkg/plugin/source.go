package plugin

import (
	"context"

	"firestige.xyz/chronicle/internal/core"
)

// Handler receives one captured frame. pkt.Data is only valid for the
// duration of the call. A non-nil error stops the source.
type Handler func(pkt core.RawPacket) error

// Source reads frames from a capture file or a network interface.
type Source interface {
	Plugin
	// Run delivers frames to handle until the input is exhausted, ctx is
	// cancelled or handle fails. End of input is not an error.
	Run(ctx context.Context, handle Handler) error
	Stats() SourceStats
}

// SourceStats represents capture statistics.
type SourceStats struct {
	PacketsReceived  uint64
	PacketsDropped   uint64 // dropped by the kernel
	PacketsIfDropped uint64 // dropped by the interface
}
