package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/warband/battlecore/internal/dispatcher"
	"github.com/warband/battlecore/internal/queue"
	"github.com/warband/battlecore/internal/transport"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

// session is one connected observer. Packs are queued by the hub and
// written by a single goroutine, so the wire order is the queue order.
type session struct {
	id     uint64
	conn   transport.Conn
	out    *queue.Queue[[]byte]
	logger *slog.Logger

	pushed  atomic.Uint64
	written atomic.Uint64

	mu   sync.Mutex
	name string
	side *core.Side
}

func (s *session) push(data []byte) {
	if s.out.Push(data) {
		s.pushed.Add(1)
	}
}

// drained reports whether everything queued was written or the writer
// has stopped.
func (s *session) drained() bool {
	return s.out.Closed() || s.written.Load() == s.pushed.Load()
}

func (s *session) hello(msg streaming.HelloMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = msg.Name
	s.side = msg.Side
}

func (s *session) controls() (*core.Side, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.side, s.name
}

// Serve runs one observer connection until it ends, ctx is done or the
// hub closes. conn is closed on return.
func (h *Hub) Serve(ctx context.Context, conn transport.Conn) error {
	s := &session{
		id:   h.nextSession.Add(1),
		conn: conn,
		out:  queue.New[[]byte](),
	}
	s.logger = h.logger.With("session", s.id)

	if err := h.join(s); err != nil {
		_ = conn.Close()
		return err
	}
	s.logger.Info("Observer connected")

	ctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, s)
	}()

	err := h.readLoop(ctx, s)

	cancel()
	_ = conn.Close()
	h.leave(s)
	<-writerDone

	_, name := s.controls()
	if err != nil && !errors.Is(err, transport.ErrClosed) && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Observer dropped", "name", name, "error", err)
		return err
	}
	s.logger.Info("Observer disconnected", "name", name)
	return nil
}

func (h *Hub) writeLoop(ctx context.Context, s *session) {
	for {
		data, ok := s.out.WaitPop()
		if !ok {
			return
		}
		if err := s.conn.Send(ctx, data); err != nil {
			s.out.Close()
			_ = s.conn.Close()
			return
		}
		s.written.Add(1)
	}
}

// readLoop decodes envelopes and routes them through the dispatcher. A
// malformed envelope ends the session.
func (h *Hub) readLoop(ctx context.Context, s *session) error {
	for {
		data, err := s.conn.Receive(ctx)
		if err != nil {
			return err
		}
		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		_, err = h.dispatcher.Dispatch(dispatcher.Event{
			Command: env.Type,
			Session: s.id,
			Payload: env.Payload,
		})
		switch {
		case err == nil:
		case errors.Is(err, dispatcher.ErrUnknownCommand):
			s.logger.Warn("Ignoring unknown command", "type", env.Type)
		case errors.Is(err, dispatcher.ErrClosed):
			return transport.ErrClosed
		default:
			s.logger.Error("Dispatch failed", "type", env.Type, "error", err)
		}
	}
}
