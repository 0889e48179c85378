package file

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/chronicle/internal/core"
)

func testFrame(t *testing.T, n int) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: 871, DstPort: 2049, Seq: uint32(n), ACK: true}
	tcp.SetNetworkLayerForChecksum(ip)
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, tcp, gopacket.Payload(make([]byte, n)))
	require.NoError(t, err)
	return buf.Bytes()
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

func writeCapture(t *testing.T, ng bool, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var w packetWriter
	var ngw *pcapgo.NgWriter
	if ng {
		ngw, err = pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
		require.NoError(t, err)
		w = ngw
	} else {
		pw := pcapgo.NewWriter(f)
		require.NoError(t, pw.WriteFileHeader(65535, layers.LinkTypeEthernet))
		w = pw
	}
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*1000),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	if ngw != nil {
		require.NoError(t, ngw.Flush())
	}
	return path
}

func run(t *testing.T, path string) ([]core.RawPacket, *Source) {
	t.Helper()
	s := NewSource().(*Source)
	require.NoError(t, s.Init(map[string]any{"file": path}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	var got []core.RawPacket
	err := s.Run(context.Background(), func(pkt core.RawPacket) error {
		pkt.Data = append([]byte(nil), pkt.Data...)
		got = append(got, pkt)
		return nil
	})
	require.NoError(t, err)
	return got, s
}

func TestReplayPcap(t *testing.T) {
	frames := [][]byte{testFrame(t, 10), testFrame(t, 100), testFrame(t, 1000)}
	got, s := run(t, writeCapture(t, false, frames...))

	require.Len(t, got, 3)
	for i := range frames {
		assert.Equal(t, frames[i], got[i].Data)
		assert.Equal(t, uint32(len(frames[i])), got[i].OrigLen)
	}
	assert.Equal(t, time.Unix(1700000000, 1000).UTC(), got[1].Timestamp.UTC())
	assert.Equal(t, uint64(3), s.Stats().PacketsReceived)
}

func TestReplayPcapng(t *testing.T) {
	frames := [][]byte{testFrame(t, 20), testFrame(t, 40)}
	got, _ := run(t, writeCapture(t, true, frames...))

	require.Len(t, got, 2)
	assert.Equal(t, frames[1], got[1].Data)
}

func TestHandlerErrorStopsReplay(t *testing.T) {
	path := writeCapture(t, false, testFrame(t, 10), testFrame(t, 10))
	s := NewSource().(*Source)
	require.NoError(t, s.Init(map[string]any{"file": path}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	err := s.Run(context.Background(), func(core.RawPacket) error { return core.ErrPoolExhausted })
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))
	assert.Equal(t, uint64(1), s.Stats().PacketsReceived)
}

func TestInitRequiresFile(t *testing.T) {
	s := NewSource()
	assert.ErrorIs(t, s.Init(map[string]any{}), core.ErrConfigInvalid)
	assert.ErrorIs(t, s.Init(map[string]any{"file": "x", "speed": 2}), core.ErrConfigInvalid)
}

func TestStartMissingFile(t *testing.T) {
	s := NewSource()
	require.NoError(t, s.Init(map[string]any{"file": filepath.Join(t.TempDir(), "absent.pcap")}))
	assert.Error(t, s.Start(context.Background()))
}
