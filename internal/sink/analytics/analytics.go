// Package analytics implements a sink that aggregates NFS activity and logs
// a summary at a fixed interval.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/nfs"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Name is the sink type.
const Name = "analytics"

const (
	defaultInterval  = 10 * time.Second
	defaultClientTTL = 5 * time.Minute
	defaultTop       = 5
)

// Config represents analytics sink configuration.
type Config struct {
	Interval  time.Duration `mapstructure:"interval"`   // report period, default 10s
	ClientTTL time.Duration `mapstructure:"client_ttl"` // idle clients are forgotten after this, default 5m
	Top       int           `mapstructure:"top"`        // busiest clients per report, default 5
}

// Client is the activity of one NFS client address.
type Client struct {
	Addr         string
	Ops          uint64
	Errors       uint64 // replies with a non-zero NFS status
	BytesRead    uint64
	BytesWritten uint64
	LastSeen     time.Time
}

// Report is one interval summary.
type Report struct {
	Interval  time.Duration
	Ops       map[string]uint64 // NFSv3 procedure name to count
	Unmatched uint64
	Bad       uint64
	Clients   int      // clients active within the TTL
	Top       []Client // busiest clients first
}

// Sink aggregates records. It keeps no reference to them past Write.
type Sink struct {
	config Config

	mu        sync.Mutex
	ops       map[string]uint64
	unmatched uint64
	bad       uint64
	since     time.Time
	clients   *cache.Cache // address -> *Client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSink creates an analytics sink.
func NewSink() plugin.Sink {
	return &Sink{}
}

// Name returns the plugin name.
func (s *Sink) Name() string {
	return Name
}

// Init initializes the sink with configuration.
func (s *Sink) Init(cfg map[string]any) error {
	s.config = Config{Interval: defaultInterval, ClientTTL: defaultClientTTL, Top: defaultTop}
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return fmt.Errorf("analytics sink: %w", err)
	}
	if s.config.Interval <= 0 || s.config.ClientTTL <= 0 || s.config.Top < 0 {
		return fmt.Errorf("analytics sink: interval and client_ttl must be positive: %w", core.ErrConfigInvalid)
	}
	s.ops = make(map[string]uint64)
	s.clients = cache.New(s.config.ClientTTL, s.config.ClientTTL)
	s.since = time.Now()
	return nil
}

// Start begins periodic reporting.
func (s *Sink) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	return nil
}

func (s *Sink) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logReport(s.Collect())
		}
	}
}

// Stop ends reporting and logs what accumulated since the last report.
func (s *Sink) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	logReport(s.Collect())
	return nil
}

// Write accounts rec.
func (s *Sink) Write(ctx context.Context, rec *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch rec.Kind {
	case core.KindBad:
		s.bad++
		return nil
	case core.KindUnmatchedCall:
		s.unmatched++
	}
	if rec.Call == nil {
		return nil
	}

	name := nfs.ProcName(rec.Call.Procedure)
	if rec.NFS != nil {
		name = rec.NFS.ProcName
	}
	s.ops[name]++

	addr := rec.Call.SrcIP.String()
	var c *Client
	if v, ok := s.clients.Get(addr); ok {
		c = v.(*Client)
	} else {
		c = &Client{Addr: addr}
	}
	c.Ops++
	c.LastSeen = rec.Call.Timestamp
	if v := rec.NFS; v != nil && rec.Reply != nil {
		if v.Status != nfs.StatusOK {
			c.Errors++
		}
		switch v.Procedure {
		case nfs.ProcRead:
			c.BytesRead += uint64(v.ReplyCount)
		case nfs.ProcWrite:
			c.BytesWritten += uint64(v.ReplyCount)
		}
	}
	// refreshes the expiry
	s.clients.SetDefault(addr, c)
	return nil
}

// Flush is a no-op; reports are periodic.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Collect returns the summary since the previous call and resets the
// interval counters. Client activity persists until it expires.
func (s *Sink) Collect() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	r := Report{
		Interval:  now.Sub(s.since),
		Ops:       s.ops,
		Unmatched: s.unmatched,
		Bad:       s.bad,
	}
	s.ops = make(map[string]uint64)
	s.unmatched, s.bad, s.since = 0, 0, now

	items := s.clients.Items()
	r.Clients = len(items)
	clients := make([]Client, 0, len(items))
	for _, it := range items {
		clients = append(clients, *it.Object.(*Client))
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].Ops != clients[j].Ops {
			return clients[i].Ops > clients[j].Ops
		}
		return clients[i].Addr < clients[j].Addr
	})
	if len(clients) > s.config.Top {
		clients = clients[:s.config.Top]
	}
	r.Top = clients
	return r
}

func logReport(r Report) {
	var total uint64
	ops := make([]any, 0, 2*len(r.Ops))
	names := make([]string, 0, len(r.Ops))
	for name, n := range r.Ops {
		total += n
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ops = append(ops, name, r.Ops[name])
	}

	slog.Info("nfs activity",
		"interval", r.Interval.Round(time.Millisecond),
		"ops", total,
		"unmatched", r.Unmatched,
		"bad", r.Bad,
		"clients", r.Clients,
		slog.Group("per_proc", ops...))
	for _, c := range r.Top {
		slog.Info("nfs client",
			"addr", c.Addr,
			"ops", c.Ops,
			"errors", c.Errors,
			"bytes_read", c.BytesRead,
			"bytes_written", c.BytesWritten,
			"last_seen", c.LastSeen)
	}
}
