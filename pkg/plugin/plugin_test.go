package plugin

import (
	"context"
	"testing"

	"firestige.xyz/chronicle/internal/core"
)

// Mock implementations for testing interface compliance

type mockPlugin struct {
	name        string
	initErr     error
	startErr    error
	stopErr     error
	initCalled  bool
	startCalled bool
	stopCalled  bool
}

func (m *mockPlugin) Name() string {
	return m.name
}

func (m *mockPlugin) Init(cfg map[string]any) error {
	m.initCalled = true
	return m.initErr
}

func (m *mockPlugin) Start(ctx context.Context) error {
	m.startCalled = true
	return m.startErr
}

func (m *mockPlugin) Stop(ctx context.Context) error {
	m.stopCalled = true
	return m.stopErr
}

func TestPluginInterface(t *testing.T) {
	t.Run("BasicLifecycle", func(t *testing.T) {
		mock := &mockPlugin{name: "test-plugin"}

		if mock.Name() != "test-plugin" {
			t.Errorf("expected name 'test-plugin', got %s", mock.Name())
		}

		cfg := map[string]any{"key": "value"}
		if err := mock.Init(cfg); err != nil {
			t.Errorf("Init failed: %v", err)
		}
		if !mock.initCalled {
			t.Error("Init was not called")
		}

		ctx := context.Background()
		if err := mock.Start(ctx); err != nil {
			t.Errorf("Start failed: %v", err)
		}
		if !mock.startCalled {
			t.Error("Start was not called")
		}

		if err := mock.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if !mock.stopCalled {
			t.Error("Stop was not called")
		}
	})
}

// Mock Source replaying fixed frames
type mockSource struct {
	mockPlugin
	frames [][]byte
	stats  SourceStats
}

func (m *mockSource) Run(ctx context.Context, handle Handler) error {
	for _, f := range m.frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.stats.PacketsReceived++
		if err := handle(core.RawPacket{Data: f, CaptureLen: uint32(len(f)), OrigLen: uint32(len(f))}); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockSource) Stats() SourceStats {
	return m.stats
}

func TestSourceInterface(t *testing.T) {
	mock := &mockSource{
		mockPlugin: mockPlugin{name: "mock-source"},
		frames:     [][]byte{{1}, {2, 2}, {3, 3, 3}},
	}
	var _ Source = mock

	var total int
	err := mock.Run(context.Background(), func(pkt core.RawPacket) error {
		total += len(pkt.Data)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total != 6 {
		t.Errorf("expected 6 bytes, got %d", total)
	}
	if mock.Stats().PacketsReceived != 3 {
		t.Errorf("expected PacketsReceived=3, got %d", mock.Stats().PacketsReceived)
	}
}

func TestSourceStopsOnHandlerError(t *testing.T) {
	mock := &mockSource{
		mockPlugin: mockPlugin{name: "mock-source"},
		frames:     [][]byte{{1}, {2}, {3}},
	}
	err := mock.Run(context.Background(), func(pkt core.RawPacket) error {
		return core.ErrPoolExhausted
	})
	if err != core.ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if mock.Stats().PacketsReceived != 1 {
		t.Errorf("expected PacketsReceived=1, got %d", mock.Stats().PacketsReceived)
	}
}

// Mock Sink
type mockSink struct {
	mockPlugin
	records []*core.Record
	flushed bool
}

func (m *mockSink) Write(ctx context.Context, rec *core.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockSink) Flush(ctx context.Context) error {
	m.flushed = true
	return nil
}

func TestSinkInterface(t *testing.T) {
	mock := &mockSink{mockPlugin: mockPlugin{name: "mock-sink"}}
	var _ Sink = mock

	ctx := context.Background()
	rec := core.NewRecord(0, core.KindBad, nil)
	if err := mock.Write(ctx, rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := mock.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(mock.records) != 1 || !mock.flushed {
		t.Errorf("expected one record and a flush, got %d records flushed=%v", len(mock.records), mock.flushed)
	}
}
