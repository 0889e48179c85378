// Package plugins registers all built-in sources and sinks.
package plugins

import (
	"firestige.xyz/chronicle/internal/sink/analytics"
	"firestige.xyz/chronicle/internal/sink/console"
	"firestige.xyz/chronicle/internal/sink/discard"
	"firestige.xyz/chronicle/internal/sink/kafka"
	"firestige.xyz/chronicle/internal/sink/pcap"
	"firestige.xyz/chronicle/internal/source/afpacket"
	"firestige.xyz/chronicle/internal/source/file"
	"firestige.xyz/chronicle/pkg/plugin"
)

func init() {
	// sources
	plugin.RegisterSource(file.Name, file.NewSource)
	plugin.RegisterSource(afpacket.Name, afpacket.NewSource)

	// sinks
	plugin.RegisterSink(console.Name, console.NewSink)
	plugin.RegisterSink(pcap.Name, pcap.NewSink)
	plugin.RegisterSink(kafka.Name, kafka.NewSink)
	plugin.RegisterSink(analytics.Name, analytics.NewSink)
	plugin.RegisterSink(discard.Name, discard.NewSink)
}
