// Package kafkasink publishes authflow audit events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish.
	WriteTimeout time.Duration
	// Async hands messages to the writer's background batching. Delivery
	// errors are then only logged by the writer.
	Async bool
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink implements authflow.AuditSink. Events are keyed by account id so one
// account's events stay ordered within a partition.
type Sink struct {
	w       messageWriter
	timeout time.Duration
	log     *zap.Logger
	failed  atomic.Uint64
}

var _ authflow.AuditSink = (*Sink)(nil)

func New(cfg Config, log *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 || strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafkasink: brokers and topic are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        cfg.Async,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return newSink(w, cfg.WriteTimeout, log), nil
}

func newSink(w messageWriter, timeout time.Duration, log *zap.Logger) *Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{w: w, timeout: timeout, log: log.Named("kafkasink")}
}

// Emit runs on the audit dispatcher goroutine; the caller's context may
// already be gone, so publishing uses its own deadline.
func (s *Sink) Emit(_ context.Context, ev authflow.AuditEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.failed.Add(1)
		s.log.Error("audit event not encodable", zap.String("event_type", ev.EventType), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: body,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		s.failed.Add(1)
		s.log.Error("audit event not published", zap.String("event_type", ev.EventType), zap.Error(err))
	}
}

// Failed counts events that could not be published.
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

func (s *Sink) Close() error {
	return s.w.Close()
}
