// Package observability wires zap logging and sentry error reporting for the
// authflow server binary and HTTP layer.
package observability
