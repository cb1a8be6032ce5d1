// Package transport carries one request and its one reply between the
// manager and a specific worker, with per-request deadlines, correlation
// ids and peer-loss detection.
package transport

import (
	"context"
	"errors"

	"starbench/internal/model"
)

var (
	// ErrChannelClosed the peer is gone; all in-flight calls fail with this.
	ErrChannelClosed = errors.New("transport: channel closed")
	// ErrCorrelationConflict a correlation id was reused while still in flight.
	ErrCorrelationConflict = errors.New("transport: correlation id already in flight")
)

// Channel is one logical request/reply channel to a single worker.
// Concurrent Call invocations are safe; replies are paired to requests by
// correlation id, so calls for distinct requests may interleave on the
// wire without response confusion.
type Channel interface {
	// Call sends the request and blocks until its reply arrives, the
	// context deadline expires, or the peer is lost.
	Call(ctx context.Context, req *model.CommandRequest) (*model.CommandReply, error)

	// Closed reports whether the peer has been lost.
	Closed() bool

	Close() error
}

// Dialer opens a channel to a worker endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Channel, error)
}
