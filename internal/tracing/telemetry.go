// Package tracing wires OpenTelemetry into the dispatch path. Every span
// carries the group and member identity so one broadcast can be followed
// across the processes that answered it.
package tracing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the exporter and sampling for dispatch traces.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // otlp-http or drop
	Endpoint    string  `yaml:"endpoint"`     // collector host:port, e.g. localhost:4318
	ServiceName string  `yaml:"service_name"` // quasar
	SampleRate  float64 `yaml:"sample_rate"`  // fraction of broadcasts traced, 0.0 to 1.0

	// Identity stamped onto the span resource. The daemon fills these from
	// the group config; they are not part of the tracing section itself.
	Group    string `yaml:"-"`
	MemberID string `yaml:"-"`
}

type provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var active atomic.Pointer[provider]

func init() {
	active.Store(&provider{tracer: trace.NewNoopTracerProvider().Tracer("")})
}

// Init installs the process-wide tracer provider. With Enabled false every
// span becomes a no-op and costs nothing on the dispatch path.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		active.Store(&provider{tracer: trace.NewNoopTracerProvider().Tracer("")})
		return nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "quasar"
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion("1.0.0"),
	}
	if cfg.Group != "" {
		attrs = append(attrs, AttrGroup.String(cfg.Group))
	}
	if cfg.MemberID != "" {
		attrs = append(attrs, AttrMemberID.String(cfg.MemberID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	active.Store(&provider{tp: tp, tracer: tp.Tracer(name)})
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "otlp", "otlp-http":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: create otlp exporter: %w", err)
		}
		return exp, nil
	case "drop":
		// Keeps the span pipeline alive in tests without a collector.
		return dropExporter{}, nil
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
}

// newSampler clamps the rate into [0,1); anything outside samples everything.
func newSampler(rate float64) sdktrace.Sampler {
	if rate >= 0 && rate < 1 {
		return sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.AlwaysSample()
}

// Shutdown flushes buffered spans. Safe to call when Init never ran.
func Shutdown(ctx context.Context) error {
	p := active.Load()
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns the installed tracer, a no-op one before Init.
func Tracer() trace.Tracer {
	return active.Load().tracer
}

// Enabled reports whether spans are actually exported.
func Enabled() bool {
	return active.Load().tp != nil
}

type dropExporter struct{}

func (dropExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (dropExporter) Shutdown(context.Context) error { return nil }
