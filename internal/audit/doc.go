// Package audit carries security events from the authentication engine to
// pluggable sinks without blocking the request path.
//
// The Dispatcher owns a buffered channel and one worker goroutine. With
// DropIfFull set, Emit never blocks and overflow is counted. Close drains
// whatever is already buffered before returning.
package audit
