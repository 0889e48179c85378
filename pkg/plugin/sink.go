package plugin

import (
	"context"

	"firestige.xyz/chronicle/internal/core"
)

// Sink consumes reconstructed RPC records.
type Sink interface {
	Plugin
	// Write hands one record to the sink. The record and its frames must not
	// be used after Write returns.
	Write(ctx context.Context, rec *core.Record) error
	Flush(ctx context.Context) error
}
