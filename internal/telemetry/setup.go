package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted in Config.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// ErrUnknownExporter is returned for an exporter name Init does not know.
var ErrUnknownExporter = errors.New("unknown telemetry exporter")

// Config selects where spans and metrics go.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string
	// MetricExporter is "none", "stdout" or "prometheus".
	MetricExporter string

	// OTLPEndpoint is the gRPC collector address for the otlp exporter.
	OTLPEndpoint string
	// Writer receives stdout exporter output. Defaults to io.Discard.
	Writer io.Writer
}

// Providers holds what Init installed.
type Providers struct {
	shutdown []func(context.Context) error
	registry *prometheus.Registry
}

// Init installs global trace and meter providers according to cfg. Call
// Shutdown on the result before exit to flush buffered data.
func Init(ctx context.Context, cfg Config) (_ *Providers, err error) {
	p := &Providers{}
	defer func() {
		if err != nil {
			_ = p.Shutdown(context.Background())
		}
	}()

	if cfg.Writer == nil {
		cfg.Writer = io.Discard
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	if cfg.TraceExporter != "" && cfg.TraceExporter != ExporterNone {
		var exp sdktrace.SpanExporter
		switch cfg.TraceExporter {
		case ExporterStdout:
			exp, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
		case ExporterOTLP:
			exp, err = otlptracegrpc.New(ctx,
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
		}
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		p.shutdown = append(p.shutdown, tp.Shutdown)
	}

	if cfg.MetricExporter != "" && cfg.MetricExporter != ExporterNone {
		var reader sdkmetric.Reader
		switch cfg.MetricExporter {
		case ExporterStdout:
			exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
			if err != nil {
				return nil, fmt.Errorf("create metric exporter: %w", err)
			}
			reader = sdkmetric.NewPeriodicReader(exp)
		case ExporterPrometheus:
			p.registry = prometheus.NewRegistry()
			reader, err = promexporter.New(promexporter.WithRegisterer(p.registry))
			if err != nil {
				return nil, fmt.Errorf("create prometheus exporter: %w", err)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		p.shutdown = append(p.shutdown, mp.Shutdown)
	}

	return p, nil
}

// MetricsHandler serves the prometheus registry, or nil when the prometheus
// exporter is not in use.
func (p *Providers) MetricsHandler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops every installed provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, p.shutdown[i](ctx))
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
