// Package pipeline runs the capture path: sources feed a dispatcher that
// decodes frames and routes each connection to one shard, shards rebuild
// RPC messages, and a sink stage writes the resulting records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/decoder"
	"firestige.xyz/chronicle/internal/flow"
	"firestige.xyz/chronicle/internal/metrics"
	"firestige.xyz/chronicle/internal/nfs"
	"firestige.xyz/chronicle/internal/pool"
	"firestige.xyz/chronicle/internal/rpc"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Config contains pipeline configuration.
type Config struct {
	Shards       int
	QueueSize    int // per-shard frame queue
	RingReplicas int // virtual nodes per shard on the hash ring
	RPC          rpc.Config
	Pool         *pool.Pool
	Sources      []plugin.Source
	Sinks        []plugin.Sink
}

// Pipeline wires sources, shards and sinks together for one run.
type Pipeline struct {
	cfg      Config
	pool     *pool.Pool
	shards   []*shard
	dispatch *dispatcher
	records  chan *core.Record
	metrics  Metrics
}

// New creates a pipeline. Sources and sinks must already be initialized.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pipeline: no buffer pool: %w", core.ErrConfigInvalid)
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("pipeline: no source: %w", core.ErrConfigInvalid)
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024 // Default queue size
	}

	p := &Pipeline{
		cfg:      cfg,
		pool:     cfg.Pool,
		dispatch: newDispatcher(cfg.Shards, cfg.RingReplicas),
		records:  make(chan *core.Record, cfg.QueueSize),
	}
	for i := 0; i < cfg.Shards; i++ {
		p.shards = append(p.shards, newShard(i, cfg.RPC, cfg.QueueSize, p.records))
	}
	return p, nil
}

// Run starts every sink, shard and source and blocks until the sources are
// exhausted or ctx is cancelled. Either way the shards are drained and every
// record reaches the sinks before Run returns. The first source failure is
// returned.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, s := range p.cfg.Sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start sink %s: %w", s.Name(), err)
		}
	}
	slog.Info("pipeline starting", "shards", len(p.shards), "sources", len(p.cfg.Sources), "sinks", len(p.cfg.Sinks))
	started := time.Now()

	sinks := new(errgroup.Group)
	sinks.Go(p.writeLoop)

	shards := new(errgroup.Group)
	for _, s := range p.shards {
		shards.Go(s.run)
	}

	sources, srcCtx := errgroup.WithContext(ctx)
	for _, src := range p.cfg.Sources {
		sources.Go(func() error { return p.capture(srcCtx, src) })
	}

	err := sources.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("capture finished, draining", "error", err)

	for _, s := range p.shards {
		close(s.in)
	}
	_ = shards.Wait()
	close(p.records)
	_ = sinks.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range p.cfg.Sinks {
		if ferr := s.Flush(stopCtx); ferr != nil {
			slog.Error("sink flush failed", "sink", s.Name(), "error", ferr)
		}
		if serr := s.Stop(stopCtx); serr != nil {
			slog.Error("sink stop failed", "sink", s.Name(), "error", serr)
		}
	}
	metrics.PoolInUse.Set(float64(p.pool.InUse()))

	slog.Info("pipeline stopped", "elapsed", time.Since(started), "records", p.metrics.Records.Load())
	return err
}

// capture runs one source and routes its frames to the shards.
func (p *Pipeline) capture(ctx context.Context, src plugin.Source) error {
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("start source %s: %w", src.Name(), err)
	}
	slog.Info("source started", "source", src.Name())

	err := src.Run(ctx, func(raw core.RawPacket) error {
		return p.dispatchPacket(ctx, src.Name(), raw)
	})
	if serr := src.Stop(context.Background()); serr != nil {
		slog.Warn("source stop failed", "source", src.Name(), "error", serr)
	}

	st := src.Stats()
	slog.Info("source stopped", "source", src.Name(),
		"received", st.PacketsReceived, "dropped", st.PacketsDropped, "error", err)
	if err != nil {
		return fmt.Errorf("source %s: %w", src.Name(), err)
	}
	return nil
}

// dispatchPacket decodes raw, copies it into a pooled buffer and queues it on
// its shard. Pool exhaustion stops the source that hit it.
func (p *Pipeline) dispatchPacket(ctx context.Context, source string, raw core.RawPacket) error {
	p.metrics.Received.Add(1)
	metrics.CapturePacketsTotal.WithLabelValues(source).Inc()

	hdr, err := decoder.Decode(raw.Data, raw.OrigLen)
	if err != nil {
		p.metrics.DecodeErrors.Add(1)
		metrics.DecodeRejectsTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil
	}
	p.metrics.Decoded.Add(1)

	buf, err := p.pool.Get(raw.Data)
	if err != nil {
		if errors.Is(err, core.ErrPoolExhausted) {
			p.metrics.PoolExhausted.Add(1)
			metrics.CaptureDropsTotal.WithLabelValues(source, "pool").Inc()
			return err
		}
		metrics.CaptureDropsTotal.WithLabelValues(source, "oversize").Inc()
		return nil
	}

	key := flow.Key{SrcIP: hdr.SrcIP, DstIP: hdr.DstIP, SrcPort: hdr.SrcPort, DstPort: hdr.DstPort}
	s := p.shards[p.dispatch.shard(key)]
	select {
	case s.in <- item{buf: buf, hdr: hdr, ts: raw.Timestamp, wireLen: raw.OrigLen}:
		p.metrics.Dispatched.Add(1)
		return nil
	case <-ctx.Done():
		buf.Release()
		return ctx.Err()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrPacketTooShort):
		return "too_short"
	case errors.Is(err, core.ErrFragmented):
		return "fragmented"
	case errors.Is(err, core.ErrNotTCP):
		return "not_tcp"
	case errors.Is(err, core.ErrPayloadTooLarge):
		return "too_large"
	default:
		return "unsupported"
	}
}

// writeLoop hands every record to every sink and then releases it.
func (p *Pipeline) writeLoop() error {
	ctx := context.Background()
	for rec := range p.records {
		start := time.Now()
		for _, s := range p.cfg.Sinks {
			if err := s.Write(ctx, rec); err != nil {
				p.metrics.SinkErrors.Add(1)
				metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
				slog.Debug("sink write failed", "sink", s.Name(), "error", err)
			}
		}
		rec.Release()
		p.metrics.Records.Add(1)
		metrics.RecordLatencySeconds.Observe(time.Since(start).Seconds())
		metrics.PoolInUse.Set(float64(p.pool.InUse()))
	}
	return nil
}

// Stats returns pipeline statistics. Shard counters are as of their last
// publication, at most one second old while running and exact after Run.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Received:      p.metrics.Received.Load(),
		Decoded:       p.metrics.Decoded.Load(),
		DecodeErrors:  p.metrics.DecodeErrors.Load(),
		PoolExhausted: p.metrics.PoolExhausted.Load(),
		Dispatched:    p.metrics.Dispatched.Load(),
		Records:       p.metrics.Records.Load(),
		SinkErrors:    p.metrics.SinkErrors.Load(),
		PoolInUse:     p.pool.InUse(),
	}
	for _, s := range p.shards {
		ss := s.stats()
		st.RPC.Add(ss.rpc)
		st.NFS.Add(ss.nfs)
		st.Flows += ss.table.Flows
	}
	return st
}

// Stats represents pipeline statistics.
type Stats struct {
	Received      uint64
	Decoded       uint64
	DecodeErrors  uint64
	PoolExhausted uint64
	Dispatched    uint64
	Records       uint64
	SinkErrors    uint64
	PoolInUse     int
	Flows         int

	RPC rpc.Stats
	NFS nfs.Counts
}
