// Package otel owns the OpenTelemetry log and metric providers of the
// process. Logs go to a file and, if an endpoint is set, over OTLP/HTTP.
// Metrics stay in process and are pulled by the status monitor.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var errNoSink = errors.New("otel enabled but neither a log writer nor an endpoint is configured")

type Config struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	// LogWriter receives pretty-printed log records.
	LogWriter io.Writer
	// Endpoint is an OTLP/HTTP collector; empty disables export.
	Endpoint string
	Insecure bool
}

// Provider is inert when Config.Enabled is false.
type Provider struct {
	enabled bool
	logs    *sdklog.LoggerProvider
	meters  *sdkmetric.MeterProvider
	reader  *sdkmetric.ManualReader
}

// New builds the providers and installs the meter provider globally, so
// instruments created through otel.Meter are collected by Collect.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	processors, err := logProcessors(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, proc := range processors {
		logOpts = append(logOpts, sdklog.WithProcessor(proc))
	}

	p := &Provider{enabled: true, reader: sdkmetric.NewManualReader()}
	p.logs = sdklog.NewLoggerProvider(logOpts...)
	p.meters = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(p.reader))
	otel.SetMeterProvider(p.meters)
	return p, nil
}

func logProcessors(ctx context.Context, cfg Config) ([]sdklog.Processor, error) {
	batch := func(exp sdklog.Exporter) sdklog.Processor {
		return sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}

	var out []sdklog.Processor
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("file log exporter: %w", err)
		}
		out = append(out, batch(exp))
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp log exporter: %w", err)
		}
		out = append(out, batch(exp))
	}
	if len(out) == 0 {
		return nil, errNoSink
	}
	return out, nil
}

func (p *Provider) Enabled() bool { return p.enabled }

// LoggerProvider feeds the otelslog bridge; nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider { return p.logs }

// Collect reads every instrument once. ok is false when disabled.
func (p *Provider) Collect(ctx context.Context) (rm metricdata.ResourceMetrics, ok bool, err error) {
	if p.reader == nil {
		return rm, false, nil
	}
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return rm, true, fmt.Errorf("collect metrics: %w", err)
	}
	return rm, true, nil
}

// Sums flattens counters and gauges to one value per instrument, adding
// up data points across attributes. Histograms contribute "<name>.count".
func Sums(rm metricdata.ResourceMetrics) map[string]float64 {
	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				out[m.Name] += total(data.DataPoints)
			case metricdata.Sum[float64]:
				out[m.Name] += total(data.DataPoints)
			case metricdata.Gauge[int64]:
				out[m.Name] += total(data.DataPoints)
			case metricdata.Gauge[float64]:
				out[m.Name] += total(data.DataPoints)
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name+".count"] += float64(dp.Count)
				}
			}
		}
	}
	return out
}

func total[N int64 | float64](points []metricdata.DataPoint[N]) float64 {
	var sum float64
	for _, dp := range points {
		sum += float64(dp.Value)
	}
	return sum
}

// Flush exports pending log records.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logs == nil {
		return nil
	}
	return p.logs.ForceFlush(ctx)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	return errors.Join(p.logs.Shutdown(ctx), p.meters.Shutdown(ctx))
}
