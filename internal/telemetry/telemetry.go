// Package telemetry wires OpenTelemetry tracing, metrics, and log export
// for insightd. Setup degrades gracefully: when an exporter cannot be
// created the corresponding signal is skipped and the Telemetry is marked
// degraded instead of failing startup.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	apilog "go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	apitrace "go.opentelemetry.io/otel/trace"
)

// Telemetry holds the configured providers. The zero value is unusable;
// construct with New.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    *sdklog.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// Option overrides parts of the setup, used by tests to inject in-memory
// exporters.
type Option func(*options)

type options struct {
	traceExporter  sdktrace.SpanExporter
	metricExporter sdkmetric.Exporter
	logExporter    sdklog.Exporter
}

// WithTraceExporter injects a span exporter instead of the OTLP one.
func WithTraceExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.traceExporter = exp }
}

// WithMetricExporter injects a metric exporter instead of the OTLP one.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(o *options) { o.metricExporter = exp }
}

// WithLogExporter injects a log exporter instead of the OTLP one.
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) { o.logExporter = exp }
}

// New builds providers per config and registers them as the process
// globals. A disabled config yields a no-op Telemetry and no error.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	traceExp := o.traceExporter
	if traceExp == nil {
		traceExp, err = newTraceExporter(ctx, cfg)
		if err != nil {
			t.degraded.Store(true)
			traceExp = nil
		}
	}
	if traceExp != nil {
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(newSampler(cfg)),
		)
		otel.SetTracerProvider(t.tracerProvider)
	}

	if cfg.Metrics.Enabled {
		metricExp := o.metricExporter
		if metricExp == nil {
			metricExp, err = newMetricExporter(ctx, cfg)
			if err != nil {
				t.degraded.Store(true)
				metricExp = nil
			}
		}
		if metricExp != nil {
			t.meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithResource(res),
				sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
					metricExp,
					sdkmetric.WithInterval(cfg.Metrics.ExportInterval),
				)),
			)
			otel.SetMeterProvider(t.meterProvider)
		}
	}

	if cfg.Logs.Enabled {
		logExp := o.logExporter
		if logExp == nil {
			logExp, err = newLogExporter(ctx, cfg)
			if err != nil {
				t.degraded.Store(true)
				logExp = nil
			}
		}
		if logExp != nil {
			t.logProvider = sdklog.NewLoggerProvider(
				sdklog.WithResource(res),
				sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			)
			logglobal.SetLoggerProvider(t.logProvider)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.healthy.Store(t.tracerProvider != nil || t.meterProvider != nil || t.logProvider != nil)
	return t, nil
}

// Tracer returns a tracer from the configured provider, falling back to the
// global provider when tracing is not set up.
func (t *Telemetry) Tracer(name string) apitrace.Tracer {
	if t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name)
	}
	return otel.GetTracerProvider().Tracer(name)
}

// Meter returns a meter from the configured provider, falling back to the
// global provider when metrics are not set up.
func (t *Telemetry) Meter(name string) apimetric.Meter {
	if t.meterProvider != nil {
		return t.meterProvider.Meter(name)
	}
	return otel.GetMeterProvider().Meter(name)
}

// LoggerProvider returns the log provider for the logging bridge, or a
// no-op provider when log export is not set up.
func (t *Telemetry) LoggerProvider() apilog.LoggerProvider {
	if t.logProvider != nil {
		return t.logProvider
	}
	return lognoop.NewLoggerProvider()
}

// IsEnabled reports whether telemetry was enabled in config.
func (t *Telemetry) IsEnabled() bool {
	return t.config != nil && t.config.Enabled
}

// Healthy reports whether at least one provider is exporting.
func (t *Telemetry) Healthy() bool {
	return t.healthy.Load()
}

// Degraded reports whether any exporter failed to initialize.
func (t *Telemetry) Degraded() bool {
	return t.degraded.Load()
}

// ForceFlush pushes all pending telemetry out of the providers.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.ForceFlush(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.ForceFlush(ctx))
	}
	if t.logProvider != nil {
		errs = append(errs, t.logProvider.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops all providers, bounded by the configured
// shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.config == nil || !t.config.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.ShutdownTimeout)
	defer cancel()

	t.healthy.Store(false)

	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	if t.logProvider != nil {
		errs = append(errs, t.logProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
