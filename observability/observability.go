// Package observability wires the OpenTelemetry tracer and meter providers.
// Metrics are exported through Prometheus, spans optionally through the
// stdout exporter pointed at stderr.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned by Init when ctx is nil.
	ErrNilContext = errors.New("observability: nil context")
	// ErrUnknownExporter is returned for an unsupported trace exporter name.
	ErrUnknownExporter = errors.New("observability: unknown exporter")
)

// Config controls which providers Init installs.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter is "stdout" or "none".
	TraceExporter string
	// TraceWriter receives stdout spans. Defaults to os.Stderr.
	TraceWriter io.Writer

	// Prometheus installs a meter provider backed by a Prometheus registry.
	Prometheus bool
}

var (
	metricsHandler   http.Handler
	metricsHandlerMu sync.RWMutex
)

// MetricsHandler returns the /metrics handler installed by the last Init, or
// nil when Prometheus is disabled.
func MetricsHandler() http.Handler {
	metricsHandlerMu.RLock()
	defer metricsHandlerMu.RUnlock()
	return metricsHandler
}

// Init installs the global tracer and meter providers. The returned shutdown
// flushes them and must be called on exit.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	switch cfg.TraceExporter {
	case "", "none":
	case "stdout":
		tp, err := initTracer(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	if cfg.Prometheus {
		mp, err := initMeter(res)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}

	return shutdown, nil
}

func initTracer(cfg Config, res *resource.Resource) (*trace.TracerProvider, error) {
	w := cfg.TraceWriter
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

// initMeter uses a private registry so repeated Init calls do not collide on
// the default one.
func initMeter(res *resource.Resource) (*metric.MeterProvider, error) {
	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	metricsHandlerMu.Lock()
	metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	metricsHandlerMu.Unlock()

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	), nil
}
