// Package observability provides OpenTelemetry tracing and metrics for
// the compliance platform. When disabled, every method is a safe no-op so
// callers never branch on whether telemetry is configured.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/vigil-systems/vigil/pkg/config"
)

const instrumentationName = "vigil.compliance"

// Provider manages the trace and metric providers plus the compliance
// metric instruments.
type Provider struct {
	settings       config.TelemetrySettings
	serviceVersion string
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	cycleCounter      metric.Int64Counter
	violationCounter  metric.Int64Counter
	failureCounter    metric.Int64Counter
	cycleDurationHist metric.Float64Histogram
}

// New creates an observability provider. A disabled configuration returns
// a provider whose methods are no-ops.
func New(ctx context.Context, settings config.TelemetrySettings, serviceVersion string) (*Provider, error) {
	p := &Provider{
		settings:       settings,
		serviceVersion: serviceVersion,
		logger:         slog.Default().With("component", "observability"),
	}

	if !settings.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("vigil"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(serviceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(serviceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"endpoint", settings.OTLPEndpoint,
		"sample_rate", settings.SampleRate,
		"insecure", settings.Insecure,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.settings.OTLPEndpoint),
	}
	if p.settings.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.settings.SampleRate >= 1.0 || p.settings.SampleRate == 0:
		sampler = sdktrace.AlwaysSample()
	case p.settings.SampleRate < 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.settings.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.settings.OTLPEndpoint),
	}
	if p.settings.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.cycleCounter, err = p.meter.Int64Counter("vigil.audit.cycles.total",
		metric.WithDescription("Total number of completed audit cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	p.violationCounter, err = p.meter.Int64Counter("vigil.audit.violations.total",
		metric.WithDescription("Total number of violations detected"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return err
	}

	p.failureCounter, err = p.meter.Int64Counter("vigil.audit.evaluator_failures.total",
		metric.WithDescription("Total number of evaluator failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	p.cycleDurationHist, err = p.meter.Float64Histogram("vigil.audit.cycle.duration",
		metric.WithDescription("Audit cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0),
	)
	return err
}

// CycleCompleted implements compliance.CycleObserver.
func (p *Provider) CycleCompleted(ctx context.Context, d time.Duration, violations, failures int) {
	if p.cycleCounter != nil {
		p.cycleCounter.Add(ctx, 1)
	}
	if p.violationCounter != nil && violations > 0 {
		p.violationCounter.Add(ctx, int64(violations))
	}
	if p.failureCounter != nil && failures > 0 {
		p.failureCounter.Add(ctx, int64(failures))
	}
	if p.cycleDurationHist != nil {
		p.cycleDurationHist.Record(ctx, d.Seconds())
	}
}

// StartSpan starts a span on the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordSubjectRequest traces a data subject request by type.
func (p *Provider) RecordSubjectRequest(ctx context.Context, requestType string, accepted bool) {
	_, span := p.StartSpan(ctx, "subject_request",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("request.type", requestType),
			attribute.Bool("request.accepted", accepted),
		))
	span.End()
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}
