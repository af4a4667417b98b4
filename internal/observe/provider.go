package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry owns the process-wide meter and tracer providers.
type Telemetry struct {
	// Handler serves every roverlink instrument in the Prometheus text
	// format, next to the Go runtime and process collectors.
	Handler http.Handler
	Metrics *Metrics

	mp *sdkmetric.MeterProvider
	tp *sdktrace.TracerProvider
}

type setup struct {
	service  string
	version  string
	exporter sdktrace.SpanExporter
	ratio    float64
}

// SetupOption configures [Setup].
type SetupOption func(*setup)

// WithService names the service in the telemetry resource. Default
// "roverlink" with no version.
func WithService(name, version string) SetupOption {
	return func(s *setup) { s.service, s.version = name, version }
}

// WithSpanExporter batches finished spans to exp. Without one spans are
// recorded for in-process use only.
func WithSpanExporter(exp sdktrace.SpanExporter) SetupOption {
	return func(s *setup) { s.exporter = exp }
}

// WithSampleRatio samples that fraction of new traces. Default 1.
func WithSampleRatio(r float64) SetupOption {
	return func(s *setup) { s.ratio = r }
}

// Setup builds the providers, installs them as the otel globals and creates
// the roverlink instruments. Call Shutdown on exit to flush spans.
func Setup(_ context.Context, opts ...SetupOption) (*Telemetry, error) {
	s := setup{service: "roverlink", ratio: 1}
	for _, opt := range opts {
		opt(&s)
	}

	// Schemaless so the merge never conflicts with the SDK's own schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(s.service),
		semconv.ServiceVersion(s.version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		mp:      sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)),
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.ratio))),
	}
	if s.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(s.exporter))
	}
	t.tp = sdktrace.NewTracerProvider(tpOpts...)

	if t.Metrics, err = NewMetrics(t.mp); err != nil {
		return nil, errors.Join(err, t.Shutdown(context.Background()))
	}
	otel.SetMeterProvider(t.mp)
	otel.SetTracerProvider(t.tp)
	return t, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
