// Package mailer provides authflow.CodeSender implementations. The server
// does not speak SMTP itself: KafkaSender hands codes to a mail service over
// a topic, and LogSender prints them for local development.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message is the payload published for each code.
type Message struct {
	Type     string    `json:"type"`
	Email    string    `json:"email"`
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

const messageType = "email_one_time_code"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes codes synchronously so a failed publish surfaces as
// a delivery failure.
type KafkaSender struct {
	w   messageWriter
	now func() time.Time
}

var _ authflow.CodeSender = (*KafkaSender)(nil)

func NewKafkaSender(brokers []string, topic string, log *zap.Logger) (*KafkaSender, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, errors.New("mailer: brokers and topic are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaSender{w: w, now: time.Now}, nil
}

func (s *KafkaSender) SendEmailCode(ctx context.Context, email, code string) error {
	now := s.now().UTC()
	body, err := json.Marshal(Message{Type: messageType, Email: email, Code: code, IssuedAt: now})
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{Key: []byte(email), Value: body, Time: now})
}

func (s *KafkaSender) Close() error {
	return s.w.Close()
}

// LogSender writes codes to the log. It is for development only.
type LogSender struct {
	log *zap.Logger
}

var _ authflow.CodeSender = (*LogSender)(nil)

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.Named("mailer")}
}

func (s *LogSender) SendEmailCode(_ context.Context, email, code string) error {
	s.log.Info("email one-time code", zap.String("email", email), zap.String("code", code))
	return nil
}
