// Package pool provides the fixed-capacity frame buffer pool shared by every shard.
package pool

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/chronicle/internal/core"
)

// Size classes.
const (
	StandardFrameSize = 1536
	JumboFrameSize    = 9216
)

// Config sizes the pool.
type Config struct {
	StandardBuffers int
	JumboBuffers    int
}

// Pool hands out reference-counted frame buffers from two size classes.
// Get and Release are safe for concurrent use.
type Pool struct {
	standard chan *Buffer
	jumbo    chan *Buffer
	inUse    atomic.Int64
	capacity int
}

// New allocates every buffer up front.
func New(cfg Config) *Pool {
	p := &Pool{
		standard: make(chan *Buffer, cfg.StandardBuffers),
		jumbo:    make(chan *Buffer, cfg.JumboBuffers),
		capacity: cfg.StandardBuffers + cfg.JumboBuffers,
	}
	for i := 0; i < cfg.StandardBuffers; i++ {
		p.standard <- &Buffer{pool: p, class: p.standard, data: make([]byte, StandardFrameSize)}
	}
	for i := 0; i < cfg.JumboBuffers; i++ {
		p.jumbo <- &Buffer{pool: p, class: p.jumbo, data: make([]byte, JumboFrameSize)}
	}
	return p
}

// Get checks out a buffer large enough for size bytes and copies data into it.
// A full pool is reported as core.ErrPoolExhausted and never blocks.
func (p *Pool) Get(data []byte) (*Buffer, error) {
	size := len(data)
	var class chan *Buffer
	switch {
	case size <= StandardFrameSize:
		class = p.standard
	case size <= JumboFrameSize:
		class = p.jumbo
	default:
		return nil, fmt.Errorf("frame of %d bytes: %w", size, core.ErrBufferTooLarge)
	}

	var b *Buffer
	select {
	case b = <-class:
	default:
		// a standard frame may borrow a jumbo buffer
		if class != p.standard {
			return nil, core.ErrPoolExhausted
		}
		select {
		case b = <-p.jumbo:
		default:
			return nil, core.ErrPoolExhausted
		}
	}

	b.n = copy(b.data, data)
	b.refs.Store(1)
	p.inUse.Add(1)
	return b, nil
}

// InUse reports how many buffers are checked out.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Capacity reports the total number of buffers.
func (p *Pool) Capacity() int {
	return p.capacity
}

func (p *Pool) put(b *Buffer) {
	b.n = 0
	p.inUse.Add(-1)
	b.class <- b
}

// Buffer is one pooled frame. The last Release returns it to the pool.
type Buffer struct {
	pool  *Pool
	class chan *Buffer
	data  []byte
	n     int
	refs  atomic.Int32
}

// Bytes returns the frame bytes copied in by Get.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the frame length.
func (b *Buffer) Len() int {
	return b.n
}

// Retain adds a reference.
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release drops a reference and recycles the buffer when none remain.
func (b *Buffer) Release() {
	switch n := b.refs.Add(-1); {
	case n == 0:
		b.pool.put(b)
	case n < 0:
		panic("pool: buffer released more times than retained")
	}
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int {
	return int(b.refs.Load())
}
