// Package flows holds the multi-step Engine operations as plain functions.
//
// Each Run* function takes a dependency struct built by the root package and
// returns a result carrying either the output or a failure kind. The root
// package maps failure kinds to its public errors, metrics, and audit events.
//
// This package must not import authflow.
package flows
