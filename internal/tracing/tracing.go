// Package tracing wires OpenTelemetry spans around the Task Store's
// transactional operations and the Assigner/Deadline Monitor ticks.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zjrosen/taskcore"

// Config controls exporter selection for Init.
type Config struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string
	// OTLPEndpoint, when non-empty, selects the OTLP/gRPC exporter for
	// production; when empty the stdout exporter is used (development).
	OTLPEndpoint string
}

// Init constructs the global tracer provider and returns a shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error
	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span named operation under the package tracer.
// Callers that don't call Init still get a valid no-op span from
// otel's default global provider.
func StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, operation)
}
