// Package security summarizes an engine configuration into a report that
// operators can log at startup or expose to health tooling.
//
// It has no dependencies on the root package so the report shape can be
// built from plain values.
package security
