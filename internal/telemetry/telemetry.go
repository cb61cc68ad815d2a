// Package telemetry records spans and metrics for daemon fixture lifecycles.
//
// Instruments come from the global OpenTelemetry providers, so nothing is
// exported unless the host program (or a test) installs a provider.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/neverDefined/go-lightningd"

var (
	tracer = otel.Tracer(scope)
	meter  = otel.Meter(scope)
)

// Outcome labels for RecordSpawn.
const (
	OutcomeReady       = "ready"
	OutcomeExeNotFound = "exe_not_found"
	OutcomeIO          = "io"
	OutcomePorts       = "ports"
	OutcomeSpawn       = "spawn"
	OutcomeTimeout     = "timeout"
	OutcomeExited      = "exited"
	OutcomeCanceled    = "canceled"
	OutcomeRPC         = "rpc"
)

var (
	spawnTotal    metric.Int64Counter
	readyDuration metric.Float64Histogram
	liveDaemons   metric.Int64UpDownCounter
	stopDuration  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		spawnTotal, err = meter.Int64Counter(
			"daemon_spawn_total",
			metric.WithDescription("Daemon fixture constructions by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		readyDuration, err = meter.Float64Histogram(
			"daemon_ready_duration_seconds",
			metric.WithDescription("Time from spawn until the daemon answered its readiness probe"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		liveDaemons, err = meter.Int64UpDownCounter(
			"daemon_live",
			metric.WithDescription("Daemon fixtures currently running"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stopDuration, err = meter.Float64Histogram(
			"daemon_stop_duration_seconds",
			metric.WithDescription("Time taken to shut a daemon fixture down"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// StartSpan starts a span for a lifecycle step of the named daemon.
func StartSpan(ctx context.Context, name, daemon string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("daemon", daemon))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordSpawn counts one construction attempt.
func RecordSpawn(ctx context.Context, daemon, outcome string) {
	if initMetrics() != nil {
		return
	}
	spawnTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("daemon", daemon),
		attribute.String("outcome", outcome),
	))
}

// RecordReady observes the time a daemon took to become ready.
func RecordReady(ctx context.Context, daemon string, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	readyDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("daemon", daemon)))
}

// RecordStop observes the time a shutdown took.
func RecordStop(ctx context.Context, daemon string, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	stopDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("daemon", daemon)))
}

// AddLive adjusts the running-daemon gauge.
func AddLive(ctx context.Context, daemon string, delta int64) {
	if initMetrics() != nil {
		return
	}
	liveDaemons.Add(ctx, delta, metric.WithAttributes(attribute.String("daemon", daemon)))
}
