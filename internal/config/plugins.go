package config

import (
	"fmt"
	"maps"

	"firestige.xyz/chronicle/pkg/plugin"
)

// CaptureConfig selects and configures the packet source.
type CaptureConfig struct {
	Type         string         `mapstructure:"type" yaml:"type"`                     // pcap | afpacket
	File         string         `mapstructure:"file" yaml:"file"`                     // pcap
	Interface    string         `mapstructure:"interface" yaml:"interface"`           // afpacket
	BPFFilter    string         `mapstructure:"bpf_filter" yaml:"bpf_filter"`         // afpacket
	SnapLen      int            `mapstructure:"snap_len" yaml:"snap_len"`             // afpacket
	BufferSizeMB int            `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"` // afpacket ring budget
	FanoutID     int            `mapstructure:"fanout_id" yaml:"fanout_id"`           // afpacket
	Options      map[string]any `mapstructure:"options" yaml:"options,omitempty"`     // passed through to the source
}

// SinkConfig selects and configures one output sink.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

func (c *CaptureConfig) validate() error {
	if _, err := plugin.GetSourceFactory(c.Type); err != nil {
		return fmt.Errorf("capture.type: %w", err)
	}
	switch c.Type {
	case "pcap":
		if c.File == "" {
			return invalid("capture.file is required for pcap capture")
		}
	case "afpacket":
		if c.Interface == "" {
			return invalid("capture.interface is required for afpacket capture")
		}
	}
	return nil
}

// SourceOptions builds the option map handed to the source's Init. Typed
// fields take precedence over the free-form options.
func (c *CaptureConfig) SourceOptions() map[string]any {
	opts := maps.Clone(c.Options)
	if opts == nil {
		opts = make(map[string]any)
	}
	switch c.Type {
	case "pcap":
		opts["file"] = c.File
	case "afpacket":
		opts["interface"] = c.Interface
		if c.BPFFilter != "" {
			opts["bpf_filter"] = c.BPFFilter
		}
		if c.SnapLen > 0 {
			opts["snap_len"] = c.SnapLen
		}
		if c.BufferSizeMB > 0 {
			opts["buffer_size_mb"] = c.BufferSizeMB
		}
		if c.FanoutID > 0 {
			opts["fanout_id"] = c.FanoutID
		}
	}
	return opts
}
