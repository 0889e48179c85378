// Package console implements the console sink.
// Records are written as a logrus stream, to stdout or to a rotated file.
package console

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/sink"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Name is the sink type.
const Name = "console"

// Config represents console sink configuration.
type Config struct {
	Format     string `mapstructure:"format"`       // "json" or "text", default "text"
	File       string `mapstructure:"file"`         // optional, stdout when empty
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // default 100
	MaxBackups int    `mapstructure:"max_backups"`  // default 5
	MaxAgeDays int    `mapstructure:"max_age_days"` // default 7
	Compress   bool   `mapstructure:"compress"`
}

// Sink prints one line per record.
type Sink struct {
	config Config
	out    io.Writer
	closer io.Closer
	logger *logrus.Logger

	reportedCount atomic.Uint64
}

// NewSink creates a console sink.
func NewSink() plugin.Sink {
	return &Sink{}
}

// Name returns the plugin name.
func (s *Sink) Name() string {
	return Name
}

// Init initializes the sink with configuration.
func (s *Sink) Init(cfg map[string]any) error {
	s.config = Config{Format: "text", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 7}
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return fmt.Errorf("console sink: %w", err)
	}
	if s.config.Format != "json" && s.config.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text: %w", s.config.Format, core.ErrConfigInvalid)
	}
	return nil
}

// Start opens the output.
func (s *Sink) Start(ctx context.Context) error {
	if s.out == nil {
		s.out = os.Stdout
		if s.config.File != "" {
			lj := &lumberjack.Logger{
				Filename:   s.config.File,
				MaxSize:    s.config.MaxSizeMB,
				MaxBackups: s.config.MaxBackups,
				MaxAge:     s.config.MaxAgeDays,
				Compress:   s.config.Compress,
			}
			s.out, s.closer = lj, lj
		}
	}

	s.logger = logrus.New()
	s.logger.SetOutput(s.out)
	s.logger.SetLevel(logrus.InfoLevel)
	if s.config.Format == "json" {
		s.logger.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})
	} else {
		s.logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true, DisableSorting: false})
	}

	slog.Info("console sink started", "format", s.config.Format, "file", s.config.File)
	return nil
}

// Stop closes the output file, if any.
func (s *Sink) Stop(ctx context.Context) error {
	slog.Info("console sink stopped", "total_reported", s.reportedCount.Load())
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Write prints rec.
func (s *Sink) Write(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	if s.logger == nil {
		return core.ErrSinkClosed
	}
	s.reportedCount.Add(1)
	s.logger.WithFields(fields(rec)).Info(rec.Kind.String())
	return nil
}

// Flush is a no-op; logrus writes through.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

func fields(rec *core.Record) logrus.Fields {
	f := logrus.Fields{"pipeline": rec.Pipeline, "flow": sink.FlowKey(rec)}
	if m := rec.Primary(); m != nil {
		f["ts"] = m.Timestamp.Format("15:04:05.000000")
		f["verdict"] = m.Verdict.String()
		f["frames"] = len(rec.Frames())
		if rec.Kind != core.KindBad {
			f["xid"] = fmt.Sprintf("%#08x", m.XID)
			f["prog"] = m.Program
			f["vers"] = m.Version
			f["proc"] = m.Procedure
		}
	}
	if rec.Call != nil && rec.Reply != nil {
		f["latency"] = rec.Reply.Timestamp.Sub(rec.Call.Timestamp).String()
		f["accept"] = rec.Reply.AcceptState
	}
	if v := rec.NFS; v != nil {
		f["nfs"] = v.ProcName
		f["status"] = v.Status
		if len(v.FileHandle) > 0 {
			f["fh"] = hex.EncodeToString(v.FileHandle)
		}
		if v.Name != "" {
			f["name"] = v.Name
		}
	}
	return f
}
