package plugin

import (
	"fmt"
	"slices"
	"sync"

	"firestige.xyz/chronicle/internal/core"
)

// SourceFactory creates a source instance.
type SourceFactory func() Source

// SinkFactory creates a sink instance.
type SinkFactory func() Sink

type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
	notFound  error
}

func newRegistry[F any](notFound error) *registry[F] {
	return &registry[F]{factories: make(map[string]F), notFound: notFound}
}

func (r *registry[F]) register(name string, f F, isNil bool) {
	if name == "" {
		panic("plugin: empty name")
	}
	if isNil {
		panic("plugin: nil factory for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic("plugin: duplicate registration of " + name)
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return f, fmt.Errorf("%q: %w", name, r.notFound)
	}
	return f, nil
}

func (r *registry[F]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reset removes every registration.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]F)
}

var (
	sourceReg = newRegistry[SourceFactory](core.ErrUnknownSource)
	sinkReg   = newRegistry[SinkFactory](core.ErrUnknownSink)
)

// RegisterSource makes a source type available by name. Registering a name
// twice panics.
func RegisterSource(name string, f SourceFactory) { sourceReg.register(name, f, f == nil) }

// GetSourceFactory returns the factory registered for name.
func GetSourceFactory(name string) (SourceFactory, error) { return sourceReg.get(name) }

// ListSources returns the registered source names in order.
func ListSources() []string { return sourceReg.list() }

// RegisterSink makes a sink type available by name. Registering a name twice
// panics.
func RegisterSink(name string, f SinkFactory) { sinkReg.register(name, f, f == nil) }

// GetSinkFactory returns the factory registered for name.
func GetSinkFactory(name string) (SinkFactory, error) { return sinkReg.get(name) }

// ListSinks returns the registered sink names in order.
func ListSinks() []string { return sinkReg.list() }
