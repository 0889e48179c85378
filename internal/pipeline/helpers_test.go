package pipeline

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/rpc"
	"firestige.xyz/chronicle/pkg/plugin"
)

const (
	clientPort  = 871
	procGetattr = 1
)

var (
	clientIP = net.IP{10, 1, 0, 7}
	serverIP = net.IP{10, 1, 0, 2}
	baseTime = time.Unix(1700000000, 0)
)

// frame serializes one TCP segment between the test client and the NFS server.
func frame(t *testing.T, fromClient bool, seq, ack uint32, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    clientIP,
		DstIP:    serverIP,
	}
	tcp := &layers.TCP{
		SrcPort: clientPort,
		DstPort: layers.TCPPort(rpc.NFSPort),
		Seq:     seq,
		Ack:     ack,
		ACK:     true,
		PSH:     true,
		Window:  1024,
	}
	if !fromClient {
		ip.SrcIP, ip.DstIP = serverIP, clientIP
		tcp.SrcPort, tcp.DstPort = layers.TCPPort(rpc.NFSPort), clientPort
	}
	tcp.SetNetworkLayerForChecksum(ip)
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func be32(b []byte, vs ...uint32) []byte {
	for _, v := range vs {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

func record(body []byte) []byte {
	return append(be32(nil, 0x80000000|uint32(len(body))), body...)
}

func fileHandle(n int) []byte {
	fh := make([]byte, n)
	for i := range fh {
		fh[i] = byte(i + 1)
	}
	return append(be32(nil, uint32(n)), fh...)
}

func getattrCall(xid uint32) []byte {
	body := be32(nil, xid, rpc.MsgCall, rpc.RPCVersion, rpc.NFSProgram, rpc.NFSVersion3, procGetattr, 0, 0, 0, 0)
	return record(append(body, fileHandle(32)...))
}

func getattrReply(xid uint32) []byte {
	body := be32(nil, xid, rpc.MsgReply, 0, 0, 0, 0, 0)
	body = be32(body, 1, 0o644, 1, 1000, 100) // type, mode, nlink, uid, gid
	body = be32(body, 0, 4096, 0, 4096)       // size, used
	body = be32(body, 0, 0, 0, 7, 0, 42)      // rdev, fsid, fileid
	body = be32(body, 1700000000, 0, 1700000001, 0, 1700000002, 0)
	return record(body)
}

// replaySource hands fixed frames to the pipeline.
type replaySource struct {
	frames  [][]byte
	stats   plugin.SourceStats
	stopped bool
}

func (s *replaySource) Name() string                    { return "replay" }
func (s *replaySource) Init(map[string]any) error       { return nil }
func (s *replaySource) Start(ctx context.Context) error { return nil }
func (s *replaySource) Stop(ctx context.Context) error  { s.stopped = true; return nil }
func (s *replaySource) Stats() plugin.SourceStats       { return s.stats }

func (s *replaySource) Run(ctx context.Context, handle plugin.Handler) error {
	for i, f := range s.frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.stats.PacketsReceived++
		raw := core.RawPacket{
			Data:       f,
			Timestamp:  baseTime.Add(time.Duration(i) * time.Millisecond),
			CaptureLen: uint32(len(f)),
			OrigLen:    uint32(len(f)),
		}
		if err := handle(raw); err != nil {
			return err
		}
	}
	return nil
}

// seen is what a sink observed of one record while it was valid.
type seen struct {
	kind        core.RecordKind
	callXID     uint32
	replyXID    uint32
	callFrames  int
	replyFrames int
	nfs         *core.NFSv3
	pipeline    int
}

type collectSink struct {
	mu      sync.Mutex
	got     []seen
	flushed bool
	stopped bool
}

func (s *collectSink) Name() string                    { return "collect" }
func (s *collectSink) Init(map[string]any) error       { return nil }
func (s *collectSink) Start(ctx context.Context) error { return nil }

func (s *collectSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *collectSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func (s *collectSink) Write(ctx context.Context, rec *core.Record) error {
	v := seen{kind: rec.Kind, nfs: rec.NFS, pipeline: rec.Pipeline}
	if rec.Call != nil {
		v.callXID = rec.Call.XID
		v.callFrames = len(rec.Call.Frames)
	}
	if rec.Reply != nil {
		v.replyXID = rec.Reply.XID
		v.replyFrames = len(rec.Reply.Frames)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, v)
	return nil
}

func (s *collectSink) records() []seen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seen(nil), s.got...)
}
