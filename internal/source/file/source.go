// Package file replays frames from a pcap or pcapng capture file.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Name is the source type of capture files.
const Name = "pcap"

const pcapngMagic = 0x0A0D0D0A

// Config represents file source configuration.
type Config struct {
	File string `mapstructure:"file"` // required
}

type packetReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads every frame of a capture file once and stops at end of file.
type Source struct {
	config Config

	file   *os.File
	reader packetReader

	packetsReceived atomic.Uint64
}

// NewSource creates a file source.
func NewSource() plugin.Source {
	return &Source{}
}

// Name returns the plugin name.
func (s *Source) Name() string {
	return Name
}

// Init initializes the source with configuration.
func (s *Source) Init(cfg map[string]any) error {
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return fmt.Errorf("pcap source: %w", err)
	}
	if s.config.File == "" {
		return fmt.Errorf("pcap source: file is required: %w", core.ErrConfigInvalid)
	}
	return nil
}

// Start opens the capture file and reads its header.
func (s *Source) Start(ctx context.Context) error {
	f, err := os.Open(s.config.File)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", s.config.File, err)
	}
	r, err := newReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture file %s: %w", s.config.File, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("capture file %s has link type %s: %w", s.config.File, lt, core.ErrUnsupportedProto)
	}
	s.file, s.reader = f, r
	slog.Debug("capture file opened", "file", s.config.File)
	return nil
}

func newReader(br *bufio.Reader) (packetReader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	// the section header block type reads the same in either byte order
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Run delivers every frame of the file. It returns nil at end of file.
func (s *Source) Run(ctx context.Context, handle plugin.Handler) error {
	if s.reader == nil {
		return fmt.Errorf("pcap source not started")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := s.reader.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("failed to read packet: %w", err)
		}
		s.packetsReceived.Add(1)

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

// Stop closes the file.
func (s *Source) Stop(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.reader = nil, nil
	return err
}

// Stats returns capture statistics.
func (s *Source) Stats() plugin.SourceStats {
	return plugin.SourceStats{PacketsReceived: s.packetsReceived.Load()}
}
