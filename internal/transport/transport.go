// Package transport defines the ordered message channel between the
// simulator and its observers.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send and Receive once the connection is gone,
// whether closed locally or dropped by the peer.
var ErrClosed = errors.New("transport closed")

// Conn is a reliable, ordered stream of messages. Receive must only be
// called from one goroutine; Send may be called from several and keeps
// the order of completed calls.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
