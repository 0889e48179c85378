package decoder

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"firestige.xyz/chronicle/internal/core"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: proto,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
}

func tcp(ip *layers.IPv4) *layers.TCP {
	t := &layers.TCP{
		SrcPort: 871,
		DstPort: 2049,
		Seq:     0x01020304,
		Ack:     0x0a0b0c0d,
		ACK:     true,
		PSH:     true,
		Window:  512,
	}
	t.SetNetworkLayerForChecksum(ip)
	return t
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func eth(typ layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: typ}
}

func TestDecodeOffsets(t *testing.T) {
	payload := []byte("0123456789abcdefghij")

	withOptions := func() (*layers.IPv4, *layers.TCP) {
		ip := ipv4(layers.IPProtocolTCP)
		ip.Options = []layers.IPv4Option{{OptionType: 0x94, OptionLength: 4, OptionData: []byte{0, 0}}}
		tc := tcp(ip)
		tc.Options = []layers.TCPOption{
			{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindTimestamps, OptionLength: 10, OptionData: make([]byte, 8)},
		}
		return ip, tc
	}

	tests := []struct {
		name  string
		frame func(t *testing.T) []byte
		want  int
	}{
		{
			name: "plain",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolTCP)
				return serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload(payload))
			},
			want: 14 + 20 + 20,
		},
		{
			name: "ip and tcp options",
			frame: func(t *testing.T) []byte {
				ip, tc := withOptions()
				return serialize(t, eth(layers.EthernetTypeIPv4), ip, tc, gopacket.Payload(payload))
			},
			want: 14 + 6*4 + 9*4,
		},
		{
			name: "802.1Q",
			frame: func(t *testing.T) []byte {
				ip, tc := withOptions()
				return serialize(t, eth(layers.EthernetTypeDot1Q),
					&layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeIPv4},
					ip, tc, gopacket.Payload(payload))
			},
			want: 14 + 4 + 6*4 + 9*4,
		},
		{
			name: "802.1ad",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolTCP)
				return serialize(t, eth(layers.EthernetTypeQinQ),
					&layers.Dot1Q{VLANIdentifier: 10, Type: layers.EthernetTypeDot1Q},
					&layers.Dot1Q{VLANIdentifier: 20, Type: layers.EthernetTypeIPv4},
					ip, tcp(ip), gopacket.Payload(payload))
			},
			want: 14 + 8 + 20 + 20,
		},
		{
			name: "802.3 with SNAP",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolTCP)
				return serialize(t, eth(layers.EthernetTypeLLC),
					&layers.LLC{DSAP: 0xaa, SSAP: 0xaa, Control: 3},
					&layers.SNAP{OrganizationalCode: []byte{0, 0, 0}, Type: layers.EthernetTypeIPv4},
					ip, tcp(ip), gopacket.Payload(payload))
			},
			want: 14 + 8 + 20 + 20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := tt.frame(t)
			h, err := Decode(frame, uint32(len(frame)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.PayloadOffset)
			assert.Equal(t, uint32(len(payload)), h.PayloadLen)
			assert.Equal(t, payload, frame[h.PayloadOffset:h.PayloadOffset+int(h.PayloadLen)])
			assert.False(t, h.Truncated)
		})
	}
}

func TestDecodeHeaderFields(t *testing.T) {
	ip := ipv4(layers.IPProtocolTCP)
	frame := serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload([]byte{1, 2, 3, 4}))

	h, err := Decode(frame, uint32(len(frame)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.SrcIP != netip.MustParseAddr("10.0.0.1") || h.DstIP != netip.MustParseAddr("10.0.0.2") {
		t.Errorf("addresses %v -> %v", h.SrcIP, h.DstIP)
	}
	if h.SrcPort != 871 || h.DstPort != 2049 {
		t.Errorf("ports %d -> %d", h.SrcPort, h.DstPort)
	}
	if h.Seq != 0x01020304 || h.Ack != 0x0a0b0c0d {
		t.Errorf("seq %#x ack %#x", h.Seq, h.Ack)
	}
}

func TestDecodeIgnoresEthernetPadding(t *testing.T) {
	ip := ipv4(layers.IPProtocolTCP)
	frame := serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload([]byte{1, 2}))
	require.Equal(t, 60, len(frame))

	h, err := Decode(frame, uint32(len(frame)))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.PayloadLen)
}

func TestDecodePureAck(t *testing.T) {
	ip := ipv4(layers.IPProtocolTCP)
	frame := serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip))

	h, err := Decode(frame, uint32(len(frame)))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.PayloadLen)
}

func TestDecodeTruncatedCapture(t *testing.T) {
	ip := ipv4(layers.IPProtocolTCP)
	payload := make([]byte, 1000)
	full := serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload(payload))
	frame := full[:200]

	h, err := Decode(frame, uint32(len(full)))
	require.NoError(t, err)
	assert.True(t, h.Truncated)
	assert.Equal(t, 54, h.PayloadOffset)
	assert.Equal(t, uint32(200-54), h.PayloadLen)

	// a frame that is short without having been cut by the capture is malformed
	_, err = Decode(frame, uint32(len(frame)))
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame func(t *testing.T) []byte
		want  error
	}{
		{
			name:  "runt",
			frame: func(t *testing.T) []byte { return make([]byte, 10) },
			want:  core.ErrPacketTooShort,
		},
		{
			name: "ipv6",
			frame: func(t *testing.T) []byte {
				ip6 := &layers.IPv6{
					Version:    6,
					HopLimit:   64,
					NextHeader: layers.IPProtocolTCP,
					SrcIP:      net.ParseIP("fd00::1"),
					DstIP:      net.ParseIP("fd00::2"),
				}
				tc := &layers.TCP{SrcPort: 871, DstPort: 2049}
				tc.SetNetworkLayerForChecksum(ip6)
				return serialize(t, eth(layers.EthernetTypeIPv6), ip6, tc)
			},
			want: core.ErrUnsupportedProto,
		},
		{
			name: "arp",
			frame: func(t *testing.T) []byte {
				return serialize(t, eth(layers.EthernetTypeARP), &layers.ARP{
					AddrType:          layers.LinkTypeEthernet,
					Protocol:          layers.EthernetTypeIPv4,
					HwAddressSize:     6,
					ProtAddressSize:   4,
					Operation:         layers.ARPRequest,
					SourceHwAddress:   srcMAC,
					SourceProtAddress: []byte{10, 0, 0, 1},
					DstHwAddress:      make([]byte, 6),
					DstProtAddress:    []byte{10, 0, 0, 2},
				})
			},
			want: core.ErrUnsupportedProto,
		},
		{
			name: "udp",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolUDP)
				udp := &layers.UDP{SrcPort: 871, DstPort: 2049}
				udp.SetNetworkLayerForChecksum(ip)
				return serialize(t, eth(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload([]byte{1, 2, 3, 4}))
			},
			want: core.ErrNotTCP,
		},
		{
			name: "more fragments",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolTCP)
				ip.Flags = layers.IPv4MoreFragments
				return serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload([]byte{1}))
			},
			want: core.ErrFragmented,
		},
		{
			name: "fragment offset",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolTCP)
				ip.Flags = 0
				ip.FragOffset = 185
				return serialize(t, eth(layers.EthernetTypeIPv4), ip, gopacket.Payload(make([]byte, 24)))
			},
			want: core.ErrFragmented,
		},
		{
			name: "payload above jumbo",
			frame: func(t *testing.T) []byte {
				ip := ipv4(layers.IPProtocolTCP)
				return serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp(ip), gopacket.Payload(make([]byte, MaxPayload+1)))
			},
			want: core.ErrPayloadTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := tt.frame(t)
			_, err := Decode(frame, uint32(len(frame)))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}
