package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitPrometheus(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{ServiceName: "bicep-lsp", ServiceVersion: "test", Prometheus: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(ctx) })

	counter, err := otel.Meter("observability.test").Int64Counter("observability_test_events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	handler := MetricsHandler()
	require.NotNil(t, handler)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "observability_test_events")
}

func TestInitStdoutTraces(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	shutdown, err := Init(ctx, Config{ServiceName: "bicep-lsp", TraceExporter: "stdout", TraceWriter: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("observability.test").Start(ctx, "observability.test.span")
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "observability.test.span")
}

func TestInitErrors(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = Init(context.Background(), Config{TraceExporter: "jaeger"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitNothing(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
