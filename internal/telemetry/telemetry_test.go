package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// reader sees every instrument of this package. The global meter binds to
// the first provider installed, so it is installed before any test runs.
var reader = sdkmetric.NewManualReader()

func TestMain(m *testing.M) {
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	os.Exit(m.Run())
}

func TestRecord_ExportsInstruments(t *testing.T) {
	ctx := context.Background()
	RecordSpawn(ctx, "lightningd", OutcomeReady)
	RecordSpawn(ctx, "lightningd", OutcomeExited)
	RecordReady(ctx, "lightningd", 250*time.Millisecond)
	RecordStop(ctx, "lightningd", time.Second)
	AddLive(ctx, "lightningd", 1)
	AddLive(ctx, "lightningd", -1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name == "daemon_spawn_total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				assert.Equal(t, int64(2), total)
			}
		}
	}

	for _, want := range []string{
		"daemon_spawn_total",
		"daemon_ready_duration_seconds",
		"daemon_stop_duration_seconds",
		"daemon_live",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestStartSpan_NoProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "lightningd.new", "lightningd")
	defer span.End()
	assert.NotNil(t, ctx)
}
