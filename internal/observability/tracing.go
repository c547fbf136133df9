package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a new tracer provider. A disabled config yields a
// noop tracer and leaves the global provider untouched.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer(TraceScope),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "guardian"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp", "":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TraceScope),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// TraceScope is the instrumentation scope used by guardian spans.
const TraceScope = "guardian"

// Common span names
const (
	SpanTransition  = "guardian.transition"
	SpanCreateTasks = "guardian.create_tasks"
	SpanRetry       = "guardian.retry"
	SpanRecord      = "guardian.record"
)

// Common attribute keys
const (
	AttrTaskID    = "guardian.task_id"
	AttrFromState = "guardian.from_state"
	AttrToState   = "guardian.to_state"
	AttrReason    = "guardian.reason"
	AttrTaskCount = "guardian.task_count"
	AttrStatus    = "guardian.status"
)

// TaskAttrs creates task attributes
func TaskAttrs(taskID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
	}
}

// TransitionAttrs describes a requested state change.
func TransitionAttrs(taskID, from, to, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrToState, to),
	}
	if from != "" {
		attrs = append(attrs, attribute.String(AttrFromState, from))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrReason, reason))
	}
	return attrs
}
