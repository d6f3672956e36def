// Package loopback connects a simulator and an observer inside one process.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/warband/battlecore/internal/transport"
)

const laneSize = 1024

type pipe struct {
	once sync.Once
	done chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// Conn is one end of a Pipe.
type Conn struct {
	p   *pipe
	in  chan []byte
	out chan []byte
}

// Pipe returns two connected ends. Closing either end closes both.
func Pipe() (*Conn, *Conn) {
	p := &pipe{done: make(chan struct{})}
	ab := newLane(laneSize)
	ba := newLane(laneSize)
	return &Conn{p: p, in: ba, out: ab}, &Conn{p: p, in: ab, out: ba}
}

var _ transport.Conn = (*Conn)(nil)

// Send copies msg onto the peer's lane.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.p.done:
		return transport.ErrClosed
	default:
	}
	cp := append([]byte(nil), msg...)
	select {
	case c.out <- cp:
		return nil
	case <-c.p.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next message. Messages sent before Close are still
// delivered.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.p.done:
		select {
		case msg := <-c.in:
			return msg, nil
		default:
		}
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("receive: %w", ctx.Err())
	}
}

// Pending returns the number of messages waiting to be received.
func (c *Conn) Pending() int {
	return len(c.in)
}

func (c *Conn) Close() error {
	c.p.close()
	return nil
}
