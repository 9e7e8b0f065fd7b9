// Package transport owns the physical link to the posture device: a
// line-oriented connection dialed over a TCP serial bridge or an MQTT
// serial bridge. Exactly one connection is live per transport; opening a
// new one closes the prior one first.
package transport

import (
	"context"
	"errors"
)

var (
	ErrConnectFailed    = errors.New("transport: connect failed")
	ErrPermissionDenied = errors.New("transport: permission denied")
	ErrStreamClosed     = errors.New("transport: stream closed")
	ErrWriteFailed      = errors.New("transport: write failed")
)

// Conn is one open line-oriented connection to the peer.
type Conn interface {
	// ReadLine blocks until a full line arrives or the stream closes.
	// The returned line has its terminator stripped.
	ReadLine() (string, error)
	// WriteLine sends one newline-terminated line.
	WriteLine(line string) error
	// Close releases the connection. Idempotent, best-effort: a failure
	// releasing one resource does not block releasing the rest.
	Close() error
}

// Transport dials connections to a peer address.
type Transport interface {
	Open(ctx context.Context, address string) (Conn, error)
}
