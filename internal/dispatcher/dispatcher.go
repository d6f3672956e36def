// Package dispatcher routes inbound observer messages to their handlers on
// the simulator.
package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQueueFull      = errors.New("queue full")
	ErrClosed         = errors.New("dispatcher closed")
)

// Event is one decoded message from an observer session.
type Event struct {
	Command string
	Session uint64
	Payload json.RawMessage
	// Timestamp is set by Dispatch when left zero.
	Timestamp time.Time
}

// HandlerFunc handles one event. For buffered commands the result goes
// nowhere and errors are only logged.
type HandlerFunc func(Event) (any, error)

// Logger takes slog style key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type handlerOptions struct {
	queue    int
	blocking bool
	logged   bool
}

// Option changes how a registered handler is run.
type Option func(*handlerOptions)

// Buffered runs the handler on its own goroutine behind a queue of size
// events. Dispatch then answers "queued".
func Buffered(size int) Option {
	return func(o *handlerOptions) { o.queue = size }
}

// Blocking makes Dispatch wait for room in a full queue rather than fail
// with ErrQueueFull.
func Blocking() Option {
	return func(o *handlerOptions) { o.blocking = true }
}

// Logged emits debug lines around each call and an error line on failure.
func Logged() Option {
	return func(o *handlerOptions) { o.logged = true }
}

// Dispatcher routes events to registered handlers. Buffered commands get
// one worker each, so events of one command are handled in arrival order.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger
	metrics  *instruments

	mu      sync.RWMutex
	buffers map[string]chan Event
	closed  bool
	wg      sync.WaitGroup
}

// New uses the global OTel meter, which is a no-op until a provider is set.
func New(logger Logger) (*Dispatcher, error) {
	return NewWithMeter(logger, nil)
}

func NewWithMeter(logger Logger, m metric.Meter) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Event),
		logger:   logger,
	}
	in, err := newInstruments(m, d)
	if err != nil {
		return nil, err
	}
	d.metrics = in
	return d, nil
}

// Register adds a handler for command. Options wrap it from the inside
// out: the queue first, then logging.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	o := &handlerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.queue > 0 {
		h = d.withBuffer(command, o, h)
	} else {
		h = d.timed(command, h)
	}
	if o.logged {
		h = d.withLogging(command, h)
	}
	d.handlers[command] = h
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(e)
}

// Close refuses further buffered events and returns once every queued one
// was handled. Safe to call twice.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.metrics.close()
}

func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.handlers[command]
	return ok
}

// QueueLengths reports the events waiting per buffered command.
func (d *Dispatcher) QueueLengths() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.buffers))
	for cmd, buf := range d.buffers {
		out[cmd] = len(buf)
	}
	return out
}

func (d *Dispatcher) timed(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		defer d.metrics.handled(command, time.Now())
		return h(e)
	}
}

func (d *Dispatcher) withBuffer(command string, o *handlerOptions, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, o.queue)

	d.mu.Lock()
	d.buffers[command] = buffer
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			start := time.Now()
			if _, err := h(e); err != nil {
				d.logger.Error("queued event failed", "command", command, "session", e.Session, "error", err)
			}
			d.metrics.handled(command, start)
		}
	}()

	// the read lock keeps Close from closing the buffer mid-send
	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, ErrClosed
		}
		if o.blocking {
			buffer <- e
			return "queued", nil
		}
		select {
		case buffer <- e:
			return "queued", nil
		default:
			d.metrics.drop(command)
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
		}
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "session", e.Session, "bytes", len(e.Payload))

		result, err := h(e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "session", e.Session, "duration", time.Since(start), "error", err)
			return result, err
		}
		d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		return result, nil
	}
}
