package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("biceplsp.telemetry")

var (
	eventsEmitted metric.Int64Counter
	eventsDropped metric.Int64Counter
	sendLatency   metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		eventsEmitted, err = meter.Int64Counter(
			"bicep_telemetry_events_emitted_total",
			metric.WithDescription("Telemetry notifications delivered to the client"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		eventsDropped, err = meter.Int64Counter(
			"bicep_telemetry_events_dropped_total",
			metric.WithDescription("Telemetry notifications dropped before delivery"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sendLatency, err = meter.Float64Histogram(
			"bicep_telemetry_send_duration_seconds",
			metric.WithDescription("Time spent writing a telemetry notification"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordEmitted(ctx context.Context, name EventName, seconds float64) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event", string(name)))
	eventsEmitted.Add(ctx, 1, attrs)
	sendLatency.Record(ctx, seconds, attrs)
}

func recordDropped(ctx context.Context, name EventName, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(name)),
		attribute.String("reason", reason),
	))
}
