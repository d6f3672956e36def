package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s %v", level, msg, kv))
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.add("DEBUG", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.add("INFO", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.add("ERROR", msg, kv) }

func (l *recordingLogger) with(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("hello", func(e Event) (any, error) {
		got = e
		return "welcome", nil
	})

	result, err := d.Dispatch(Event{Command: "hello", Session: 1, Payload: json.RawMessage(`{"name":"ai"}`)})
	require.NoError(t, err)
	assert.Equal(t, "welcome", result)
	assert.Equal(t, uint64(1), got.Session)
	assert.False(t, got.Timestamp.IsZero(), "dispatch stamps the event")
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: "surrender"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "surrender")
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("hello", func(Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler("hello"))
	assert.False(t, d.HasHandler("cast_spell"))
}

func TestDispatcher_Buffered(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(3)
	var handled atomic.Int32
	d.Register("cast_spell", func(Event) (any, error) {
		handled.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(8))

	for range 3 {
		result, err := d.Dispatch(Event{Command: "cast_spell"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}
	wg.Wait()
	assert.Equal(t, int32(3), handled.Load())
}

// blockedWorker registers command with a handler that parks until release
// is closed, and waits until the worker holds the first event.
func blockedWorker(t *testing.T, d *Dispatcher, command string, opts ...Option) chan struct{} {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(command, func(Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	}, opts...)

	_, err := d.Dispatch(Event{Command: command})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first event")
	}
	return release
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)
	release := blockedWorker(t, d, "cast_spell", Buffered(2))
	defer close(release)

	for range 2 {
		_, err := d.Dispatch(Event{Command: "cast_spell"})
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{"cast_spell": 2}, d.QueueLengths())

	_, err := d.Dispatch(Event{Command: "cast_spell"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)
	release := blockedWorker(t, d, "cast_spell", Buffered(1), Blocking())

	_, err := d.Dispatch(Event{Command: "cast_spell"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = d.Dispatch(Event{Command: "cast_spell"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch into a full blocking queue returned early")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch stayed blocked after the worker resumed")
	}
}

func TestDispatcher_Logged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("hello", func(Event) (any, error) { return "ok", nil }, Logged())
	d.Register("bad_hello", func(Event) (any, error) { return nil, errors.New("name taken") }, Logged())

	_, err := d.Dispatch(Event{Command: "hello", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Len(t, logger.with("DEBUG"), 2)
	assert.Empty(t, logger.with("ERROR"))

	_, err = d.Dispatch(Event{Command: "bad_hello"})
	require.Error(t, err)
	errs := logger.with("ERROR")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "name taken")
}

func TestDispatcher_QueuedFailureIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("cast_spell", func(Event) (any, error) {
		return nil, errors.New("unknown spell")
	}, Buffered(4), Blocking(), Logged())

	_, err := d.Dispatch(Event{Command: "cast_spell", Session: 9})
	require.NoError(t, err, "enqueue succeeds even if the handler later fails")
	d.Close()

	errs := logger.with("ERROR")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "queued event failed")
	assert.Contains(t, errs[0], "unknown spell")
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var handled atomic.Int32
	d.Register("cast_spell", func(Event) (any, error) {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return nil, nil
	}, Buffered(10), Blocking())

	for range 5 {
		_, err := d.Dispatch(Event{Command: "cast_spell"})
		require.NoError(t, err)
	}
	d.Close()
	assert.Equal(t, int32(5), handled.Load(), "Close returns after the queue drained")

	_, err := d.Dispatch(Event{Command: "cast_spell"})
	assert.ErrorIs(t, err, ErrClosed)

	d.Close()
}

func TestDispatcher_OrderPreserved(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []uint64
	d.Register("cast_spell", func(e Event) (any, error) {
		mu.Lock()
		seen = append(seen, e.Session)
		mu.Unlock()
		return nil, nil
	}, Buffered(100), Blocking())

	want := make([]uint64, 0, 50)
	for i := uint64(1); i <= 50; i++ {
		want = append(want, i)
		_, err := d.Dispatch(Event{Command: "cast_spell", Session: i})
		require.NoError(t, err)
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestDispatcher_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	d, err := NewWithMeter(&recordingLogger{}, provider.Meter("test"))
	require.NoError(t, err)

	d.Register("hello", func(Event) (any, error) { return nil, nil })
	for range 3 {
		_, err := d.Dispatch(Event{Command: "hello"})
		require.NoError(t, err)
	}
	d.Close()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "dispatcher.events.processed" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(3), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, found["dispatcher.events.processed"])
	assert.True(t, found["dispatcher.handler.duration"])
}
