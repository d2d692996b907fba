// Package otel publishes authflow engine metrics through an OpenTelemetry
// Meter supplied by the caller.
//
// Counters become Int64ObservableCounters. The latency histogram becomes one
// cumulative gauge per bucket plus a count gauge. One callback reads
// Engine.MetricsSnapshot per collection.
package otel
