// Package observability wires OpenTelemetry tracing and metrics for the
// ledger, and builds the process logger.
//
// Instruments in other packages are created against the global providers,
// so they start exporting as soon as New installs an enabled Provider.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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

const (
	instrumentationName = "helm.ledger"
	metricInterval      = 15 * time.Second
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"` // gRPC host:port
	SampleRate     float64       `yaml:"sample_rate"`   // 0.0 to 1.0
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	Enabled        bool          `yaml:"enabled"`
	Insecure       bool          `yaml:"insecure"` // plaintext gRPC
}

// DefaultConfig returns the defaults. Telemetry is off unless enabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "helm-ledger",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// opMetrics are the rate, error and duration instruments behind
// TrackOperation.
type opMetrics struct {
	started  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

func newOpMetrics(meter metric.Meter) (opMetrics, error) {
	var (
		m   opMetrics
		err error
	)
	if m.started, err = meter.Int64Counter("helm.ledger.operations.total",
		metric.WithDescription("Ledger operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return m, err
	}
	if m.failed, err = meter.Int64Counter("helm.ledger.errors.total",
		metric.WithDescription("Ledger operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return m, err
	}
	m.duration, err = meter.Float64Histogram("helm.ledger.operation.duration",
		metric.WithDescription("Wall time of one ledger operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120),
	)
	return m, err
}

// Provider owns the SDK providers when telemetry is enabled.
type Provider struct {
	config *Config
	logger *slog.Logger

	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	ops     opMetrics
}

// New creates a provider. A disabled config leaves the global no-op
// providers in place.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if config.Enabled {
		if err := p.install(ctx); err != nil {
			return nil, err
		}
		p.logger.InfoContext(ctx, "telemetry exporting",
			"service", config.ServiceName,
			"endpoint", config.OTLPEndpoint,
			"sample_rate", config.SampleRate)
	} else {
		p.logger.DebugContext(ctx, "telemetry disabled")
	}

	ops, err := newOpMetrics(p.Meter())
	if err != nil {
		return nil, fmt.Errorf("observability: operation metrics: %w", err)
	}
	p.ops = ops
	return p, nil
}

func (p *Provider) install(ctx context.Context) error {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(p.config.ServiceName),
		semconv.ServiceVersion(p.config.ServiceVersion),
		semconv.DeploymentEnvironment(p.config.Environment),
		attribute.String("helm.component", "ledger"),
	))
	if err != nil {
		return fmt.Errorf("observability: resource: %w", err)
	}

	spanExporter, err := otlptracegrpc.New(ctx, p.traceOptions()...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, p.metricOptions()...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return fmt.Errorf("observability: metric exporter: %w", err)
	}

	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(p.config.SampleRate))),
		sdktrace.WithBatcher(spanExporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	p.metrics = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricInterval))),
	)

	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) traceOptions() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func (p *Provider) metricOptions() []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

// samplerFor maps a ratio onto the root sampler.
func samplerFor(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Enabled reports whether exporters are installed.
func (p *Provider) Enabled() bool { return p.traces != nil }

// Shutdown flushes pending spans and metrics. Flush failures are logged and
// joined into the returned error.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		p.logger.WarnContext(ctx, "telemetry flush failed", "error", err)
	}
	return err
}

// Tracer returns the ledger tracer from the global provider.
func (p *Provider) Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
}

// Meter returns the ledger meter from the global provider.
func (p *Provider) Meter() metric.Meter {
	return otel.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion))
}

// TrackOperation starts a span for one CLI or library operation and counts
// it. Call the returned func exactly once with the operation's result.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	set := make([]attribute.KeyValue, 0, len(attrs)+1)
	set = append(set, attrs...)
	set = append(set, attribute.String("operation", name))
	opt := metric.WithAttributes(set...)

	ctx, span := p.Tracer().Start(ctx, name, trace.WithAttributes(set...))
	p.ops.started.Add(ctx, 1, opt)

	return ctx, func(err error) {
		defer span.End()
		p.ops.duration.Record(ctx, time.Since(start).Seconds(), opt)
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.ops.failed.Add(ctx, 1, opt)
	}
}
