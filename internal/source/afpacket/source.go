// Package afpacket captures frames from a network interface through an
// AF_PACKET version 3 ring.
package afpacket

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/pkg/plugin"
)

const (
	// Name is the source type of live interface capture.
	Name = "afpacket"

	defaultSnapLen      = 65535
	defaultBufferSizeMB = 512
	defaultFanoutID     = 42
	defaultFanoutType   = "hash"

	pollTimeout       = 100 * time.Millisecond
	statsEveryPackets = 1024
)

// Config represents afpacket-specific configuration.
type Config struct {
	Interface    string `mapstructure:"interface"`      // required
	BPFFilter    string `mapstructure:"bpf_filter"`     // optional
	SnapLen      int    `mapstructure:"snap_len"`       // optional, default 65535
	BufferSizeMB int    `mapstructure:"buffer_size_mb"` // optional, default 512
	FanoutID     int    `mapstructure:"fanout_id"`      // optional, default 42
	FanoutType   string `mapstructure:"fanout_type"`    // optional: hash or empty
}

// Source reads frames from a TPacket ring until its context ends.
type Source struct {
	config Config

	frameSize int
	blockSize int
	numBlocks int

	handle *afpacket.TPacket

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
}

// NewSource creates an afpacket source.
func NewSource() plugin.Source {
	return &Source{}
}

// Name returns the plugin name.
func (s *Source) Name() string {
	return Name
}

// Init initializes the source with configuration.
func (s *Source) Init(cfg map[string]any) error {
	s.config = Config{
		SnapLen:      defaultSnapLen,
		BufferSizeMB: defaultBufferSizeMB,
		FanoutID:     defaultFanoutID,
		FanoutType:   defaultFanoutType,
	}
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return fmt.Errorf("afpacket: %w", err)
	}
	if s.config.Interface == "" {
		return fmt.Errorf("afpacket: interface is required: %w", core.ErrConfigInvalid)
	}
	if _, err := parseFanoutType(s.config.FanoutType); err != nil {
		return fmt.Errorf("afpacket: %w: %w", err, core.ErrConfigInvalid)
	}

	var err error
	s.frameSize, s.blockSize, s.numBlocks, err = recomputeSize(s.config.BufferSizeMB, s.config.SnapLen, os.Getpagesize())
	if err != nil {
		return fmt.Errorf("afpacket: %w: %w", err, core.ErrConfigInvalid)
	}

	slog.Debug("afpacket initialized",
		"interface", s.config.Interface,
		"bpf_filter", s.config.BPFFilter,
		"frame_size", s.frameSize,
		"block_size", s.blockSize,
		"num_blocks", s.numBlocks,
		"fanout_id", s.config.FanoutID)
	return nil
}

// Start opens the ring, joins the fanout group and installs the filter.
func (s *Source) Start(ctx context.Context) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.config.Interface),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle: %w", err)
	}
	s.handle = handle

	if s.config.FanoutType != "" {
		fanoutType, _ := parseFanoutType(s.config.FanoutType)
		if err := handle.SetFanout(fanoutType, uint16(s.config.FanoutID)); err != nil {
			s.close()
			return fmt.Errorf("failed to set fanout: %w", err)
		}
	}
	if s.config.BPFFilter != "" {
		if err := s.applyBPFFilter(); err != nil {
			s.close()
			return fmt.Errorf("failed to apply BPF filter: %w", err)
		}
	}
	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	slog.Info("afpacket capture started", "interface", s.config.Interface)
	return nil
}

// Run reads the ring until ctx is cancelled. Frame data is only valid for
// the duration of the handler call.
//
// The ring is not closed here: Stop closes it once Run has returned, so no
// read can touch the unmapped ring.
func (s *Source) Run(ctx context.Context, handle plugin.Handler) error {
	if s.handle == nil {
		return fmt.Errorf("afpacket source not started")
	}
	defer s.updateDrops()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			// poll timeouts and EINTR
			continue
		}

		if n := s.packetsReceived.Add(1); n%statsEveryPackets == 0 {
			s.updateDrops()
		}

		raw := core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}
		if err := handle(raw); err != nil {
			return err
		}
	}
}

// Stop closes the ring.
func (s *Source) Stop(ctx context.Context) error {
	s.close()
	slog.Info("afpacket capture stopped", "interface", s.config.Interface)
	return nil
}

func (s *Source) close() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

// updateDrops copies the kernel's cumulative drop counter.
func (s *Source) updateDrops() {
	if _, v3, err := s.handle.SocketStats(); err == nil {
		s.packetsDropped.Store(uint64(v3.Drops()))
	}
}

// applyBPFFilter compiles a BPF filter and installs it on the ring.
func (s *Source) applyBPFFilter() error {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, s.config.SnapLen, s.config.BPFFilter)
	if err != nil {
		return fmt.Errorf("failed to compile BPF filter %q: %w", s.config.BPFFilter, err)
	}

	// pcap.BPFInstruction and bpf.RawInstruction share one layout
	rawInsns := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		rawInsns[i] = bpf.RawInstruction{
			Op: insn.Code,
			Jt: insn.Jt,
			Jf: insn.Jf,
			K:  insn.K,
		}
	}
	if err := s.handle.SetBPF(rawInsns); err != nil {
		return fmt.Errorf("failed to set BPF: %w", err)
	}
	slog.Debug("BPF filter applied", "filter", s.config.BPFFilter)
	return nil
}

// Stats returns capture statistics.
func (s *Source) Stats() plugin.SourceStats {
	return plugin.SourceStats{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
	}
}

// parseFanoutType converts a fanout type name to the afpacket constant.
// gopacket v1.1.19 exports FanoutHash only.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch ft {
	case "hash":
		return afpacket.FanoutHash, nil
	case "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown fanout type %q", ft)
	}
}
