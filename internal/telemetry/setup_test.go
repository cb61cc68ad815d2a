package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_Prometheus(t *testing.T) {
	p, err := Init(context.Background(), Config{
		ServiceName:    "lnregtest",
		MetricExporter: ExporterPrometheus,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	counter, err := otel.Meter("setup-test").Int64Counter("probe_hits")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := p.MetricsHandler()
	require.NotNil(t, handler)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "probe_hits")
}

func TestInit_StdoutTraces(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{
		ServiceName:   "lnregtest",
		TraceExporter: ExporterStdout,
		Writer:        &buf,
	})
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())

	_, span := otel.Tracer("setup-test").Start(context.Background(), "probe")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"probe"`)
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{MetricExporter: "statsd"})
	require.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{TraceExporter: "zipkin"})
	require.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_None(t *testing.T) {
	p, err := Init(context.Background(), Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone})
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}
