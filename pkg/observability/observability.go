// Package observability provides OpenTelemetry tracing and metrics for the
// greenproof pipeline.
//
// Telemetry is disabled by default: the trust guarantees live in the
// ledger, not in metrics, and the pipeline must run identically with no
// collector reachable. When enabled, spans and metrics export over OTLP
// gRPC.
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
)

const instrumentationName = "greenproof.core"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns defaults with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "greenproof-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages the trace and metric providers and the pipeline's
// instruments. The zero-value methods are safe when telemetry is disabled.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	receiptsEmitted   metric.Int64Counter
	anomaliesRecorded metric.Int64Counter
	haltsRaised       metric.Int64Counter
	proofsGenerated   metric.Int64Counter
	proofsVerified    metric.Int64Counter
	opDuration        metric.Float64Histogram
}

// New creates a Provider. With Enabled false no exporter is constructed
// and every recording method is a no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
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
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.receiptsEmitted, err = p.meter.Int64Counter("greenproof.receipts.emitted",
		metric.WithDescription("Receipts appended to the ledger"),
		metric.WithUnit("{receipt}"))
	if err != nil {
		return err
	}

	p.anomaliesRecorded, err = p.meter.Int64Counter("greenproof.anomalies.recorded",
		metric.WithDescription("Anomaly receipts recorded"),
		metric.WithUnit("{anomaly}"))
	if err != nil {
		return err
	}

	p.haltsRaised, err = p.meter.Int64Counter("greenproof.halts.raised",
		metric.WithDescription("Pipeline halts raised after a recorded anomaly"),
		metric.WithUnit("{halt}"))
	if err != nil {
		return err
	}

	p.proofsGenerated, err = p.meter.Int64Counter("greenproof.proofs.generated",
		metric.WithDescription("Merkle inclusion proofs generated"),
		metric.WithUnit("{proof}"))
	if err != nil {
		return err
	}

	p.proofsVerified, err = p.meter.Int64Counter("greenproof.proofs.verified",
		metric.WithDescription("Merkle inclusion proofs verified"),
		metric.WithUnit("{proof}"))
	if err != nil {
		return err
	}

	p.opDuration, err = p.meter.Float64Histogram("greenproof.operation.duration",
		metric.WithDescription("Pipeline operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5))
	if err != nil {
		return err
	}

	return nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// StartSpan starts a span under the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordReceipt counts one emitted receipt.
func (p *Provider) RecordReceipt(ctx context.Context, receiptType string) {
	if p.receiptsEmitted != nil {
		p.receiptsEmitted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("receipt.type", receiptType)))
	}
}

// RecordAnomaly counts one recorded anomaly.
func (p *Provider) RecordAnomaly(ctx context.Context, classification, action string) {
	if p.anomaliesRecorded != nil {
		p.anomaliesRecorded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("anomaly.classification", classification),
			attribute.String("anomaly.action", action)))
	}
}

// RecordHalt counts one raised halt.
func (p *Provider) RecordHalt(ctx context.Context, anomalyType string) {
	if p.haltsRaised != nil {
		p.haltsRaised.Add(ctx, 1, metric.WithAttributes(
			attribute.String("anomaly.type", anomalyType)))
	}
}

// RecordProofGenerated counts one generated proof.
func (p *Provider) RecordProofGenerated(ctx context.Context) {
	if p.proofsGenerated != nil {
		p.proofsGenerated.Add(ctx, 1)
	}
}

// RecordProofVerified counts one proof verification with its outcome.
func (p *Provider) RecordProofVerified(ctx context.Context, valid bool) {
	if p.proofsVerified != nil {
		p.proofsVerified.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("proof.valid", valid)))
	}
}

// TrackOperation opens a span and times the operation; call the returned
// func with the operation's error when it completes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if p.opDuration != nil {
			p.opDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				append(attrs, attribute.String("operation", name))...))
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
