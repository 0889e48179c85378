// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/pool"
	"firestige.xyz/chronicle/internal/rpc"
	"firestige.xyz/chronicle/pkg/plugin"
)

// GlobalConfig represents the whole static configuration.
// Maps to the `chronicle:` root key in YAML.
type GlobalConfig struct {
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	FlowTable FlowTableConfig `mapstructure:"flow_table" yaml:"flow_table"`
	RPC       RPCConfig       `mapstructure:"rpc" yaml:"rpc"`
	Sinks     []SinkConfig    `mapstructure:"sinks" yaml:"sinks"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ─── Buffers & Engine ───

// PoolConfig sizes the frame buffer pool.
type PoolConfig struct {
	StandardBuffers int `mapstructure:"standard_buffers" yaml:"standard_buffers"`
	JumboBuffers    int `mapstructure:"jumbo_buffers" yaml:"jumbo_buffers"`
}

// Pool converts to the pool package's configuration.
func (c PoolConfig) Pool() pool.Config {
	return pool.Config{StandardBuffers: c.StandardBuffers, JumboBuffers: c.JumboBuffers}
}

// PipelineConfig sizes the shard layout.
type PipelineConfig struct {
	Shards       int `mapstructure:"shards" yaml:"shards"`               // parallel flow shards
	QueueSize    int `mapstructure:"queue_size" yaml:"queue_size"`       // frames buffered per shard
	RingReplicas int `mapstructure:"ring_replicas" yaml:"ring_replicas"` // hash ring weight per shard
}

// FlowTableConfig sizes each shard's flow table.
type FlowTableConfig struct {
	Buckets int `mapstructure:"buckets" yaml:"buckets"` // power of two
}

// RPCConfig holds the reassembly tunables.
type RPCConfig struct {
	PacketsBatchSize      int           `mapstructure:"packets_batch_size" yaml:"packets_batch_size"`
	PDUsBatchSize         int           `mapstructure:"pdus_batch_size" yaml:"pdus_batch_size"`
	GCThresh              int           `mapstructure:"gc_thresh" yaml:"gc_thresh"`
	ScanThresh            int           `mapstructure:"scan_thresh" yaml:"scan_thresh"`
	CompleteHdrThresh     int           `mapstructure:"complete_hdr_thresh" yaml:"complete_hdr_thresh"`
	ReplyParseThresh      int           `mapstructure:"reply_parse_thresh" yaml:"reply_parse_thresh"`
	UnmatchedCallGCThresh int           `mapstructure:"unmatched_call_gc_thresh" yaml:"unmatched_call_gc_thresh"`
	CallReplySyncWait     time.Duration `mapstructure:"call_reply_sync_wait" yaml:"call_reply_sync_wait"`
	FlowTimeWindow        time.Duration `mapstructure:"flow_time_window" yaml:"flow_time_window"`
	GCMaxBuckets          int           `mapstructure:"gc_max_buckets" yaml:"gc_max_buckets"`
}

// Parser converts to the rpc package's configuration.
func (c *GlobalConfig) Parser() rpc.Config {
	r := c.RPC
	return rpc.Config{
		FlowTableBuckets:      c.FlowTable.Buckets,
		PacketsBatchSize:      r.PacketsBatchSize,
		PDUsBatchSize:         r.PDUsBatchSize,
		GCThresh:              uint16(r.GCThresh),
		ScanThresh:            uint16(r.ScanThresh),
		CompleteHeaderThresh:  uint16(r.CompleteHdrThresh),
		ReplyParseThresh:      r.ReplyParseThresh,
		UnmatchedCallGCThresh: r.UnmatchedCallGCThresh,
		CallReplySyncWait:     r.CallReplySyncWait,
		FlowTimeWindow:        r.FlowTimeWindow,
		GCMaxBuckets:          r.GCMaxBuckets,
	}
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string           `mapstructure:"format" yaml:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `chronicle: ...`.
type configRoot struct {
	Chronicle GlobalConfig `mapstructure:"chronicle"`
}

// Load reads and validates configuration from file.
func Load(path string) (*GlobalConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Read loads configuration without validating it, so callers can apply
// command-line overrides first. An empty path yields the defaults.
// Env vars use the CHRONICLE_ prefix (e.g., CHRONICLE_LOG_LEVEL).
func Read(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "chronicle.log.level" maps to env "CHRONICLE_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &root.Chronicle, nil
}

// setDefaults sets default values for configuration.
// All keys use the "chronicle." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("chronicle.capture.type", "pcap")
	v.SetDefault("chronicle.capture.file", "")
	v.SetDefault("chronicle.capture.interface", "")
	v.SetDefault("chronicle.capture.bpf_filter", "")
	v.SetDefault("chronicle.capture.snap_len", 65535)
	v.SetDefault("chronicle.capture.buffer_size_mb", 512)
	v.SetDefault("chronicle.capture.fanout_id", 42)

	// Buffer pool defaults
	v.SetDefault("chronicle.pool.standard_buffers", 32768)
	v.SetDefault("chronicle.pool.jumbo_buffers", 2048)

	// Engine defaults
	v.SetDefault("chronicle.pipeline.shards", 1)
	v.SetDefault("chronicle.pipeline.queue_size", 1024)
	v.SetDefault("chronicle.pipeline.ring_replicas", 1)
	v.SetDefault("chronicle.flow_table.buckets", 65536)

	// Reassembly defaults
	d := rpc.DefaultConfig()
	v.SetDefault("chronicle.rpc.packets_batch_size", d.PacketsBatchSize)
	v.SetDefault("chronicle.rpc.pdus_batch_size", d.PDUsBatchSize)
	v.SetDefault("chronicle.rpc.gc_thresh", int(d.GCThresh))
	v.SetDefault("chronicle.rpc.scan_thresh", int(d.ScanThresh))
	v.SetDefault("chronicle.rpc.complete_hdr_thresh", int(d.CompleteHeaderThresh))
	v.SetDefault("chronicle.rpc.reply_parse_thresh", d.ReplyParseThresh)
	v.SetDefault("chronicle.rpc.unmatched_call_gc_thresh", d.UnmatchedCallGCThresh)
	v.SetDefault("chronicle.rpc.call_reply_sync_wait", d.CallReplySyncWait.String())
	v.SetDefault("chronicle.rpc.flow_time_window", d.FlowTimeWindow.String())
	v.SetDefault("chronicle.rpc.gc_max_buckets", d.GCMaxBuckets)

	// Log defaults
	v.SetDefault("chronicle.log.level", "info")
	v.SetDefault("chronicle.log.format", "text")
	v.SetDefault("chronicle.log.file.enabled", false)
	v.SetDefault("chronicle.log.file.path", "/var/log/chronicle/chronicle.log")
	v.SetDefault("chronicle.log.file.rotation.max_size_mb", 100)
	v.SetDefault("chronicle.log.file.rotation.max_age_days", 30)
	v.SetDefault("chronicle.log.file.rotation.max_backups", 5)
	v.SetDefault("chronicle.log.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("chronicle.metrics.enabled", false)
	v.SetDefault("chronicle.metrics.listen", ":9091")
	v.SetDefault("chronicle.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Rule violations wrap core.ErrConfigInvalid; unknown plugin types wrap
// core.ErrUnknownSource or core.ErrUnknownSink.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return invalid("log.file.path is required when log.file.enabled=true")
	}

	// ── Capture ──
	if err := cfg.Capture.validate(); err != nil {
		return err
	}

	// ── Sinks ──
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{{Type: "console"}}
	}
	for i, s := range cfg.Sinks {
		if _, err := plugin.GetSinkFactory(s.Type); err != nil {
			return fmt.Errorf("sinks[%d]: %w", i, err)
		}
	}

	// ── Pool & engine ──
	if cfg.Pool.StandardBuffers <= 0 || cfg.Pool.JumboBuffers < 0 {
		return invalid("pool.standard_buffers must be positive and pool.jumbo_buffers non-negative")
	}
	if cfg.Pipeline.Shards <= 0 {
		return invalid("pipeline.shards must be positive, got %d", cfg.Pipeline.Shards)
	}
	if cfg.Pipeline.QueueSize <= 0 {
		return invalid("pipeline.queue_size must be positive, got %d", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.RingReplicas <= 0 {
		cfg.Pipeline.RingReplicas = 1
	}
	if b := cfg.FlowTable.Buckets; b <= 0 || b&(b-1) != 0 {
		return invalid("flow_table.buckets must be a power of two, got %d", b)
	}

	// ── Reassembly ──
	r := &cfg.RPC
	for name, val := range map[string]int{
		"packets_batch_size":       r.PacketsBatchSize,
		"pdus_batch_size":          r.PDUsBatchSize,
		"gc_thresh":                r.GCThresh,
		"scan_thresh":              r.ScanThresh,
		"complete_hdr_thresh":      r.CompleteHdrThresh,
		"reply_parse_thresh":       r.ReplyParseThresh,
		"unmatched_call_gc_thresh": r.UnmatchedCallGCThresh,
		"gc_max_buckets":           r.GCMaxBuckets,
	} {
		if val <= 0 {
			return invalid("rpc.%s must be positive, got %d", name, val)
		}
	}
	if r.GCThresh > 0xffff {
		return invalid("rpc.gc_thresh must fit 16 bits, got %d", r.GCThresh)
	}
	if r.ScanThresh >= r.GCThresh || r.CompleteHdrThresh >= r.GCThresh {
		return invalid("rpc.scan_thresh and rpc.complete_hdr_thresh must be below rpc.gc_thresh")
	}
	if r.CallReplySyncWait <= 0 || r.FlowTimeWindow <= 0 {
		return invalid("rpc.call_reply_sync_wait and rpc.flow_time_window must be positive")
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
