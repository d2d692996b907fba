// Package prometheus exposes authflow engine metrics as a Prometheus
// collector.
//
// The collector reads Engine.MetricsSnapshot on every scrape. It registers
// nothing globally; callers register it with their own registry or use
// Handler.
package prometheus
