// Package websocket carries the replication stream over gorilla/websocket.
// One goroutine owns all writes to the socket and one owns all reads, so
// message order on the wire is the order of Send calls.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/warband/battlecore/internal/transport"
)

const (
	sendChSize = 4096
	recvChSize = 4096
	writeWait  = 10 * time.Second
	dialWait   = 10 * time.Second

	// SecretParam is the query parameter carrying the shared secret.
	SecretParam = "secret"
)

type outgoing struct {
	data []byte
	// written is closed once the frame reached the socket or failed
	written chan error
}

// Conn is a transport.Conn over a websocket.
type Conn struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan outgoing
	recvCh chan []byte
	done   chan struct{} // closed on shutdown or failure
	closed bool
	err    error

	logger *slog.Logger
}

var _ transport.Conn = (*Conn)(nil)

func newConn(conn *ws.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		conn:   conn,
		sendCh: make(chan outgoing, sendChSize),
		recvCh: make(chan []byte, recvChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Dial connects to an observer endpoint. The secret travels as a query
// parameter. There is no reconnect: a lost stream cannot be resumed
// without a fresh snapshot.
func Dial(ctx context.Context, rawURL, secret string, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set(SecretParam, secret)
		u.RawQuery = q.Encode()
	}

	dialer := *ws.DefaultDialer
	dialer.HandshakeTimeout = dialWait
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newConn(conn, logger), nil
}

// Upgrader accepts observer connections on the simulator side.
type Upgrader struct {
	Secret string
	Logger *slog.Logger

	upgrader ws.Upgrader
}

// NewUpgrader returns an Upgrader checking secret when it is non-empty.
func NewUpgrader(secret string, logger *slog.Logger) *Upgrader {
	return &Upgrader{
		Secret: secret,
		Logger: logger,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Upgrade validates the secret and switches the request to a websocket.
// On failure an HTTP error has already been written.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if u.Secret != "" && r.URL.Query().Get(SecretParam) != u.Secret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, errors.New("websocket upgrade: bad secret")
	}
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return newConn(conn, u.Logger), nil
}

// writeLoop drains sendCh and writes messages to the WebSocket.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				out.written <- transport.ErrClosed
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				out.written <- err
				c.fail(fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, out.data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				out.written <- err
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
			out.written <- nil
		}
	}
}

// readLoop forwards every frame to recvCh in arrival order.
func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				c.logger.Debug("WebSocket closed by peer")
			} else {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}

		select {
		case c.recvCh <- message:
		case <-c.done:
			return
		}
	}
}

// fail records the first error and shuts the connection down.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) closedErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return transport.ErrClosed
}

// Send queues msg for the write loop and waits until it was written.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	out := outgoing{data: msg, written: make(chan error, 1)}
	select {
	case c.sendCh <- out:
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.written:
		if err != nil {
			return c.closedErr()
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next frame. Frames read before a disconnect are
// still delivered; after that ErrClosed is returned.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.recvCh:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.recvCh:
		return msg, nil
	case <-c.done:
		select {
		case msg := <-c.recvCh:
			return msg, nil
		default:
		}
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a WebSocket close frame and shuts down all goroutines.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
