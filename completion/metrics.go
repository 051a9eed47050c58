package completion

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	candidatesOffered metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		candidatesOffered, metricsErr = otel.Meter("biceplsp.completion").Int64Counter(
			"bicep_completion_candidates_offered_total",
			metric.WithDescription("Snippet candidates returned to completion requests"),
		)
	})
	return metricsErr
}

func recordOffered(kind Kind, n int) {
	if n == 0 || initMetrics() != nil {
		return
	}
	candidatesOffered.Add(context.Background(), int64(n),
		metric.WithAttributes(attribute.String("kind", kind.String())))
}
