// Package pcap implements a sink writing the frames of every record to a
// pcap or pcapng file.
package pcap

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Name is the sink type.
const Name = "pcap"

const defaultSnapLen = 65535

// Config represents pcap sink configuration.
type Config struct {
	File    string `mapstructure:"file"`     // required
	Format  string `mapstructure:"format"`   // "pcap" or "pcapng", default "pcap"
	SnapLen int    `mapstructure:"snap_len"` // default 65535
	SkipBad bool   `mapstructure:"skip_bad"` // drop the frames of BAD records
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Stats counts what the sink wrote.
type Stats struct {
	Records uint64
	Skipped uint64
	Packets uint64
	Failed  uint64
}

// Sink writes the frames of each record, call frames first.
type Sink struct {
	config Config

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	ng     *pcapgo.NgWriter
	writer packetWriter
	stats  Stats
}

// NewSink creates a pcap sink.
func NewSink() plugin.Sink {
	return &Sink{}
}

// Name returns the plugin name.
func (s *Sink) Name() string {
	return Name
}

// Init initializes the sink with configuration.
func (s *Sink) Init(cfg map[string]any) error {
	s.config = Config{Format: "pcap", SnapLen: defaultSnapLen}
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return fmt.Errorf("pcap sink: %w", err)
	}
	if s.config.File == "" {
		return fmt.Errorf("pcap sink: file is required: %w", core.ErrConfigInvalid)
	}
	if s.config.Format != "pcap" && s.config.Format != "pcapng" {
		return fmt.Errorf("pcap sink: invalid format %q: %w", s.config.Format, core.ErrConfigInvalid)
	}
	if s.config.SnapLen <= 0 {
		return fmt.Errorf("pcap sink: snap_len must be positive: %w", core.ErrConfigInvalid)
	}
	return nil
}

// Start creates the file and writes its header.
func (s *Sink) Start(ctx context.Context) error {
	f, err := os.Create(s.config.File)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.config.File, err)
	}
	buf := bufio.NewWriter(f)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.Format == "pcapng" {
		ng, err := pcapgo.NewNgWriter(buf, layers.LinkTypeEthernet)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to write pcapng header: %w", err)
		}
		s.ng, s.writer = ng, ng
	} else {
		pw := pcapgo.NewWriter(buf)
		if err := pw.WriteFileHeader(uint32(s.config.SnapLen), layers.LinkTypeEthernet); err != nil {
			f.Close()
			return fmt.Errorf("failed to write pcap header: %w", err)
		}
		s.writer = pw
	}
	s.file, s.buf = f, buf

	slog.Info("pcap sink started", "file", s.config.File, "format", s.config.Format)
	return nil
}

// Write appends the frames of rec.
func (s *Sink) Write(ctx context.Context, rec *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return core.ErrSinkClosed
	}
	if s.config.SkipBad && rec.Kind == core.KindBad {
		s.stats.Skipped++
		return nil
	}
	s.stats.Records++
	for _, fr := range rec.Frames() {
		data := fr.Data
		if len(data) > s.config.SnapLen {
			data = data[:s.config.SnapLen]
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     fr.Timestamp,
			CaptureLength: len(data),
			Length:        max(int(fr.OrigLen), len(fr.Data)),
		}
		if err := s.writer.WritePacket(ci, data); err != nil {
			s.stats.Failed++
			return fmt.Errorf("failed to write packet: %w", err)
		}
		s.stats.Packets++
	}
	return nil
}

// Flush pushes buffered packets to the file.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *Sink) flush() error {
	if s.writer == nil {
		return nil
	}
	if s.ng != nil {
		if err := s.ng.Flush(); err != nil {
			return err
		}
	}
	return s.buf.Flush()
}

// Stop flushes and closes the file.
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file, s.buf, s.ng, s.writer = nil, nil, nil, nil

	slog.Info("pcap sink stopped",
		"file", s.config.File,
		"records", s.stats.Records,
		"packets", s.stats.Packets,
		"skipped", s.stats.Skipped,
		"failed", s.stats.Failed)
	return err
}

// Stats returns a snapshot of the write counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
