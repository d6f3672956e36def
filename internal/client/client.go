// Package client replicates an authoritative battle into a local mirror.
//
// A background receive loop decodes packs from the transport and queues
// them; a single apply loop pops them in arrival order, applies them to
// the mirror, notifies observers and completes the caller's pending
// request when its PackageApplied pack comes through.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/queue"
	"github.com/warband/battlecore/internal/transport"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

var (
	// ErrDisconnected is returned when the transport dropped or delivered
	// a pack that could not be decoded.
	ErrDisconnected = errors.New("disconnected")
	// ErrRequestInFlight is returned when a request is issued while
	// another one is still awaiting its outcome.
	ErrRequestInFlight = errors.New("request already in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
	// ErrRejected is returned when the simulator refused the request.
	ErrRejected = errors.New("request rejected")
	// ErrNotStreaming is returned for requests before Start.
	ErrNotStreaming = errors.New("client not streaming")
)

// State is the connection state of a client.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer is told about every applied pack, after the mirror changed.
// Observers run on the apply loop and must not block. An observer may call
// Close; it must not call Request, whose completing pack would be applied
// by the loop the observer is holding.
type Observer interface {
	PackApplied(seq uint64, p packs.Pack)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(seq uint64, p packs.Pack)

func (f ObserverFunc) PackApplied(seq uint64, p packs.Pack) { f(seq, p) }

// Options configure a client.
type Options struct {
	Name string
	// Side the observer plays; nil for spectators.
	Side *core.Side
	// RequestTimeout bounds Request when the caller's context has no
	// deadline. Zero waits until the outcome or a disconnect.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type inbound struct {
	seq  uint64
	pack packs.Pack
}

// Client is a replication client bound to one transport connection.
type Client struct {
	opts   Options
	logger *slog.Logger
	conn   transport.Conn
	mirror *battle.Battle
	queue  *queue.Queue[inbound]

	// lifeMu is held for reading while a pack is applied and for writing
	// while the client shuts down, so no pack is applied after Close.
	lifeMu sync.RWMutex

	mu        sync.Mutex
	state     State
	err       error
	pending   *pending
	observers []Observer
	lastSeq   uint64
	ready     chan struct{}
	readyOnce sync.Once

	nextID  atomic.Uint64
	applied atomic.Uint64
	// observing is set while the apply loop runs observers.
	observing atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	appliedCounter metric.Int64Counter
	requestLatency metric.Float64Histogram
	queueDepth     metric.Int64ObservableGauge
	registration   metric.Registration
}

// New wraps an established connection. The client starts in
// StateConnected, or StateDisconnected when conn is nil.
func New(conn transport.Conn, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:   opts,
		logger: logger.With("component", "client", "name", opts.Name),
		conn:   conn,
		mirror: battle.New("", 0),
		queue:  queue.New[inbound](),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateConnected,
	}
	if conn == nil {
		c.state = StateDisconnected
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	m := meter()
	var err error

	c.appliedCounter, err = m.Int64Counter(
		"client.packs.applied",
		metric.WithDescription("Total delta packs applied to the local mirror"),
	)
	if err != nil {
		return fmt.Errorf("creating applied counter: %w", err)
	}

	c.requestLatency, err = m.Float64Histogram(
		"client.request.duration",
		metric.WithDescription("Time from sending a request until its outcome was applied"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating request histogram: %w", err)
	}

	c.queueDepth, err = m.Int64ObservableGauge(
		"client.queue.size",
		metric.WithDescription("Packs received but not yet applied"),
	)
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}

	c.registration, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(c.queueDepth, int64(c.queue.Len()),
				metric.WithAttributes(attribute.String("client", c.opts.Name)))
			return nil
		},
		c.queueDepth,
	)
	if err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}
	return nil
}

// Mirror returns the local battle. It is written only by the apply loop.
func (c *Client) Mirror() *battle.Battle { return c.mirror }

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the client stopped streaming: nil after a plain Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the client reached StateClosed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Applied returns the number of packs applied so far.
func (c *Client) Applied() uint64 { return c.applied.Load() }

// Subscribe registers an observer. Safe to call at any time.
func (c *Client) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Start announces the observer and begins streaming.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start in state %s", st)
	}
	c.state = StateStreaming
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	hello, err := json.Marshal(streaming.HelloMessage{Name: c.opts.Name, Side: c.opts.Side})
	if err != nil {
		cancel()
		return err
	}
	if err := c.send(ctx, streaming.TypeHello, hello); err != nil {
		c.shutdown(fmt.Errorf("%w: hello: %v", ErrDisconnected, err))
		return err
	}

	c.wg.Add(2)
	go c.receiveLoop(runCtx)
	go c.applyLoop()
	c.logger.Info("Streaming started")
	return nil
}

func (c *Client) send(ctx context.Context, typ string, payload []byte) error {
	data, err := json.Marshal(streaming.Envelope{Type: typ, Payload: payload})
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, data)
}

// receiveLoop decodes packs and queues them. Any transport or decode
// failure ends the connection.
func (c *Client) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		data, err := c.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}

		p, seq, err := packs.Unmarshal(data)
		if err != nil {
			c.logger.Error("Dropping connection on bad pack", "error", err)
			c.shutdown(fmt.Errorf("%w: %w", ErrDisconnected, err))
			return
		}

		c.mu.Lock()
		last := c.lastSeq
		if seq != 0 {
			c.lastSeq = seq
		}
		c.mu.Unlock()
		if seq != 0 && seq <= last {
			c.logger.Error("Dropping connection on out of order pack", "seq", seq, "last", last)
			c.shutdown(fmt.Errorf("%w: pack %d after %d", ErrDisconnected, seq, last))
			return
		}

		if !c.queue.Push(inbound{seq: seq, pack: p}) {
			return
		}
	}
}

// applyLoop is the only goroutine mutating the mirror.
func (c *Client) applyLoop() {
	defer c.wg.Done()
	for {
		item, ok := c.queue.WaitPop()
		if !ok {
			return
		}
		if !c.apply(item) {
			return
		}
	}
}

func (c *Client) apply(item inbound) bool {
	observers, ok := c.applyToMirror(item)
	if !ok {
		return false
	}

	c.observing.Store(true)
	for _, o := range observers {
		o.PackApplied(item.seq, item.pack)
	}
	c.observing.Store(false)

	if done, ok := item.pack.(packs.Completing); ok {
		c.complete(done)
	}
	return true
}

// applyToMirror applies item unless the client was closed. Observers are
// called by apply after the lock is released so they can close the client.
func (c *Client) applyToMirror(item inbound) ([]Observer, bool) {
	c.lifeMu.RLock()
	defer c.lifeMu.RUnlock()

	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return nil, false
	}
	observers := c.observers
	c.mu.Unlock()

	item.pack.Apply(c.mirror)
	c.applied.Add(1)
	c.appliedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", item.pack.Type())))

	if _, ok := item.pack.(*packs.BattleStart); ok {
		c.readyOnce.Do(func() { close(c.ready) })
	}
	return observers, true
}

func (c *Client) complete(done packs.Completing) {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.id != done.Completes() {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	ok, reason := done.Outcome()
	if ok {
		p.resolve(nil)
		return
	}
	if reason == "" {
		reason = "no reason given"
	}
	p.resolve(fmt.Errorf("%w: %s", ErrRejected, reason))
}

// WaitReady blocks until the battle snapshot was applied.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request sends a spell cast and blocks until the simulator's outcome for
// it was applied to the mirror, the connection ends, or ctx is done.
// Only one request may be outstanding at a time.
func (c *Client) Request(ctx context.Context, req streaming.CastSpellRequest) error {
	if c.opts.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
			defer cancel()
		}
	}

	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrClosed
	case c.state != StateStreaming:
		c.mu.Unlock()
		return ErrNotStreaming
	case c.pending != nil:
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	req.RequestID = c.nextID.Add(1)
	p := newPending(req.RequestID)
	c.pending = p
	c.mu.Unlock()

	start := time.Now()
	payload, err := json.Marshal(req)
	if err == nil {
		err = c.send(ctx, streaming.TypeCastSpell, payload)
	}
	if err != nil {
		c.abandon(p)
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return err
	}

	select {
	case <-p.Done():
		c.requestLatency.Record(context.Background(), time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("spell", req.Spell)))
		return p.Err()
	case <-ctx.Done():
		c.abandon(p)
		return ctx.Err()
	}
}

// abandon forgets p if it is still the outstanding request.
func (c *Client) abandon(p *pending) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
	p.resolve(ErrClosed)
}

// Close stops streaming, discards queued packs and releases a blocked
// Request with ErrClosed. Called while observers run, it does not wait
// for the loops to exit; the apply loop stops after the current pack.
func (c *Client) Close() error {
	c.shutdown(nil)
	if c.observing.Load() {
		return nil
	}
	c.wg.Wait()
	return nil
}

// shutdown moves the client to StateClosed once. cause is nil for a
// local Close.
func (c *Client) shutdown(cause error) {
	c.lifeMu.Lock()
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		c.lifeMu.Unlock()
		return
	}
	c.state = StateClosed
	c.err = cause
	p := c.pending
	c.pending = nil
	cancel := c.cancel
	c.mu.Unlock()
	c.lifeMu.Unlock()

	discarded := c.queue.Close()
	if p != nil {
		if cause != nil {
			p.resolve(cause)
		} else {
			p.resolve(ErrClosed)
		}
	}
	if cancel != nil {
		cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.registration != nil {
		_ = c.registration.Unregister()
	}
	close(c.done)

	if cause != nil {
		c.logger.Warn("Connection lost", "error", cause, "discarded", discarded)
	} else {
		c.logger.Info("Client closed", "discarded", discarded)
	}
}
