package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSenderPublishesKeyedMessage(t *testing.T) {
	w := &recordingWriter{}
	at := time.Date(2026, 3, 14, 9, 26, 45, 0, time.UTC)
	s := &KafkaSender{w: w, now: func() time.Time { return at }}

	if err := s.SendEmailCode(context.Background(), "bob@example.com", "482913"); err != nil {
		t.Fatalf("SendEmailCode: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "bob@example.com" {
		t.Fatalf("messages = %+v", w.msgs)
	}
	var m Message
	if err := json.Unmarshal(w.msgs[0].Value, &m); err != nil {
		t.Fatal(err)
	}
	want := Message{Type: "email_one_time_code", Email: "bob@example.com", Code: "482913", IssuedAt: at}
	if m != want {
		t.Fatalf("message = %+v, want %+v", m, want)
	}
}

func TestKafkaSenderReturnsPublishError(t *testing.T) {
	boom := errors.New("broker down")
	s := &KafkaSender{w: &recordingWriter{err: boom}, now: time.Now}
	if err := s.SendEmailCode(context.Background(), "bob@example.com", "482913"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewKafkaSenderValidates(t *testing.T) {
	if _, err := NewKafkaSender(nil, "codes", nil); err == nil {
		t.Fatal("missing brokers accepted")
	}
	if _, err := NewKafkaSender([]string{"localhost:9092"}, " ", nil); err == nil {
		t.Fatal("blank topic accepted")
	}
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))
	if err := s.SendEmailCode(context.Background(), "bob@example.com", "482913"); err != nil {
		t.Fatal(err)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].ContextMap()["code"] != "482913" {
		t.Fatalf("entries = %+v", entries)
	}
}
