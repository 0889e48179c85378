package rpc

import (
	"net/netip"
	"testing"

	"firestige.xyz/chronicle/internal/flow"
	"github.com/stretchr/testify/assert"
)

func TestExactlyOneDirectionIsReply(t *testing.T) {
	other := netip.MustParseAddr("10.1.0.9")
	cases := []struct {
		name      string
		key       flow.Key
		replySide uint16
	}{
		{"client to nfs", flow.Key{SrcIP: clientIP, DstIP: serverIP, SrcPort: clientPort, DstPort: NFSPort}, NFSPort},
		{"portmap port to nfs", flow.Key{SrcIP: clientIP, DstIP: serverIP, SrcPort: SunRPCPort, DstPort: NFSPort}, NFSPort},
		{"client to portmap", flow.Key{SrcIP: clientIP, DstIP: serverIP, SrcPort: 40000, DstPort: SunRPCPort}, SunRPCPort},
		{"nfs to nfs", flow.Key{SrcIP: other, DstIP: serverIP, SrcPort: NFSPort, DstPort: NFSPort}, NFSPort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fwd := &Flow{Descriptor: &flow.Descriptor{Key: tc.key}}
			rev := &Flow{Descriptor: &flow.Descriptor{Key: tc.key.Reverse()}}
			assert.NotEqual(t, fwd.IsReply(), rev.IsReply())
			assert.Equal(t, fwd.IsCall(), rev.IsReply())
			reply := fwd
			if rev.IsReply() {
				reply = rev
			}
			assert.Equal(t, tc.replySide, reply.Key.SrcPort)
		})
	}
}
