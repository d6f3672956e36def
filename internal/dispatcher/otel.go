package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/warband/battlecore/internal/dispatcher"

type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	duration  metric.Float64Histogram

	registration metric.Registration
}

func newInstruments(m metric.Meter, d *Dispatcher) (*instruments, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}
	in := &instruments{}

	var err error
	if in.queueSize, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in a command queue")); err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	if in.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Events handled")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if in.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events refused by a full queue")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if in.duration, err = m.Float64Histogram("dispatcher.handler.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Handler run time")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	in.registration, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for cmd, n := range d.QueueLengths() {
			o.ObserveInt64(in.queueSize, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, in.queueSize)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	return in, nil
}

func (in *instruments) handled(command string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("command", command))
	in.processed.Add(context.Background(), 1, attrs)
	in.duration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000, attrs)
}

func (in *instruments) drop(command string) {
	in.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", command)))
}

func (in *instruments) close() {
	if in.registration != nil {
		_ = in.registration.Unregister()
	}
}
