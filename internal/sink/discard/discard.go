// Package discard implements a sink that drops every record. It is used for
// benchmarking the pipeline and for runs that only want the statistics.
package discard

import (
	"context"
	"sync/atomic"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Name is the sink type.
const Name = "discard"

// Sink counts records and drops them.
type Sink struct {
	records atomic.Uint64
	frames  atomic.Uint64
}

// NewSink creates a discard sink.
func NewSink() plugin.Sink {
	return &Sink{}
}

func (s *Sink) Name() string                    { return Name }
func (s *Sink) Init(cfg map[string]any) error   { return plugin.DecodeOptions(cfg, &struct{}{}) }
func (s *Sink) Start(ctx context.Context) error { return nil }
func (s *Sink) Stop(ctx context.Context) error  { return nil }
func (s *Sink) Flush(ctx context.Context) error { return nil }

func (s *Sink) Write(ctx context.Context, rec *core.Record) error {
	s.records.Add(1)
	s.frames.Add(uint64(len(rec.Frames())))
	return nil
}

// Counts returns the number of records and frames dropped.
func (s *Sink) Counts() (records, frames uint64) {
	return s.records.Load(), s.frames.Load()
}
