package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	}
	d.Close()

	got := 0
	for {
		select {
		case <-sink.Events():
			got++
			continue
		default:
		}
		break
	}
	if got != 5 {
		t.Fatalf("expected 5 events after drain, got %d", got)
	}
	d.Emit(context.Background(), Event{EventType: "late"})
	if d.Dropped() != 0 {
		t.Fatal("emit after close should be silently ignored")
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, blockingSink{release: release})
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops under backpressure")
	}
	close(release)
	d.Close()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "second_factor_success", AccountID: "acc-1", Success: true, Timestamp: time.Unix(0, 0).UTC()})

	line := strings.TrimSpace(buf.String())
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if ev.EventType != "second_factor_success" || ev.AccountID != "acc-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))
	s.Emit(context.Background(), Event{EventType: "ok", Success: true})
	s.Emit(context.Background(), Event{EventType: "bad", Error: "invalid_code", Metadata: map[string]string{"kind": "totp"}})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["meta.kind"] != "totp" {
		t.Fatalf("metadata not logged: %v", entries[1].ContextMap())
	}
}

func TestMultiSink(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{EventType: "x"})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatal("expected fan-out to both sinks")
	}
}

type flakySink struct {
	mu   sync.Mutex
	seen []string
}

func (f *flakySink) Emit(_ context.Context, ev Event) {
	if ev.EventType == "boom" {
		panic("sink failure")
	}
	f.mu.Lock()
	f.seen = append(f.seen, ev.EventType)
	f.mu.Unlock()
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	sink := &flakySink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "after"})
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 1 || sink.seen[0] != "after" {
		t.Fatalf("seen = %v", sink.seen)
	}
}
