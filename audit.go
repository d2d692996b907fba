package authflow

import internalaudit "github.com/MrEthical07/authflow/internal/audit"

// AuditEvent is one security event emitted by the Engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	ZapSink        = internalaudit.ZapSink
	MultiSink      = internalaudit.MultiSink
)

var (
	NewChannelSink    = internalaudit.NewChannelSink
	NewJSONWriterSink = internalaudit.NewJSONWriterSink
	NewZapSink        = internalaudit.NewZapSink
)
