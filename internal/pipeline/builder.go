package pipeline

import (
	"firestige.xyz/chronicle/internal/pool"
	"firestige.xyz/chronicle/internal/rpc"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder with the stock parser tunables.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			Shards:       1,
			QueueSize:    1024,
			RingReplicas: 1,
			RPC:          rpc.DefaultConfig(),
		},
	}
}

// WithShards sets the number of shards.
func (b *Builder) WithShards(n int) *Builder {
	b.config.Shards = n
	return b
}

// WithQueueSize sets the per-shard frame queue length.
func (b *Builder) WithQueueSize(size int) *Builder {
	b.config.QueueSize = size
	return b
}

// WithRingReplicas sets the hash ring weight of each shard.
func (b *Builder) WithRingReplicas(n int) *Builder {
	b.config.RingReplicas = n
	return b
}

// WithRPC sets the parser tunables.
func (b *Builder) WithRPC(cfg rpc.Config) *Builder {
	b.config.RPC = cfg
	return b
}

// WithPool sets the frame buffer pool.
func (b *Builder) WithPool(p *pool.Pool) *Builder {
	b.config.Pool = p
	return b
}

// WithSources sets the packet sources.
func (b *Builder) WithSources(sources ...plugin.Source) *Builder {
	b.config.Sources = sources
	return b
}

// WithSinks sets the record sinks.
func (b *Builder) WithSinks(sinks ...plugin.Sink) *Builder {
	b.config.Sinks = sinks
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}
