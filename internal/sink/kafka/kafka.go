// Package kafka implements the Kafka sink.
// Records are sent as JSON documents with batching and compression.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/sink"
	"firestige.xyz/chronicle/pkg/plugin"
)

// Name is the sink type.
const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Config represents Kafka sink configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Async        bool          `mapstructure:"async"`         // optional, errors are only logged
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink sends records to a Kafka topic.
type Sink struct {
	config Config
	writer messageWriter

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// NewSink creates a Kafka sink.
func NewSink() plugin.Sink {
	return &Sink{}
}

// Name returns the plugin name.
func (s *Sink) Name() string {
	return Name
}

// Init initializes the sink with configuration.
func (s *Sink) Init(cfg map[string]any) error {
	s.config = Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return fmt.Errorf("kafka sink: %w", err)
	}
	if len(s.config.Brokers) == 0 {
		return fmt.Errorf("kafka sink: brokers is required: %w", core.ErrConfigInvalid)
	}
	if s.config.Topic == "" {
		return fmt.Errorf("kafka sink: topic is required: %w", core.ErrConfigInvalid)
	}

	codec, err := compressionCodec(s.config.Compression)
	if err != nil {
		return fmt.Errorf("kafka sink: %w: %w", err, core.ErrConfigInvalid)
	}

	writerConfig := kafka.WriterConfig{
		Brokers:          s.config.Brokers,
		Topic:            s.config.Topic,
		Balancer:         &kafka.Hash{}, // one flow, one partition
		BatchSize:        s.config.BatchSize,
		BatchTimeout:     s.config.BatchTimeout,
		MaxAttempts:      s.config.MaxAttempts,
		Async:            s.config.Async,
		CompressionCodec: codec,
	}
	if s.config.Async {
		writerConfig.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...any) {
			s.errorCount.Add(1)
			slog.Debug("kafka async write failed", "error", fmt.Sprintf(msg, args...))
		})
	}
	s.writer = kafka.NewWriter(writerConfig)
	return nil
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

// Start starts the sink.
func (s *Sink) Start(ctx context.Context) error {
	slog.Info("kafka sink started",
		"brokers", s.config.Brokers,
		"topic", s.config.Topic,
		"batch_size", s.config.BatchSize,
		"batch_timeout", s.config.BatchTimeout,
		"compression", s.config.Compression,
	)
	return nil
}

// Stop closes the writer, sending anything still batched.
func (s *Sink) Stop(ctx context.Context) error {
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}
	slog.Info("kafka sink stopped",
		"total_reported", s.reportedCount.Load(),
		"total_errors", s.errorCount.Load(),
	)
	return nil
}

// Write sends rec.
func (s *Sink) Write(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	msg, err := newMessage(rec)
	if err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("serialize record failed: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.reportedCount.Add(1)
	return nil
}

// newMessage keys the message by flow so both directions of a connection
// land on one partition.
func newMessage(rec *core.Record) (kafka.Message, error) {
	value, err := json.Marshal(sink.NewDocument(rec))
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Key:   []byte(flowKey(rec)),
		Value: value,
	}
	if m := rec.Primary(); m != nil {
		msg.Time = m.Timestamp
	}
	labels := sink.Labels(rec)
	msg.Headers = make([]kafka.Header, 0, len(labels))
	for k, v := range labels {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// flowKey is the client-to-server endpoint pair.
func flowKey(rec *core.Record) string {
	if rec.Call == nil && rec.Reply != nil {
		r := rec.Reply
		return fmt.Sprintf("%s:%d-%s:%d", r.DstIP, r.DstPort, r.SrcIP, r.SrcPort)
	}
	return sink.FlowKey(rec)
}

// Flush is a no-op: synchronous writes return once delivered, and Stop
// drains asynchronous batches.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}
