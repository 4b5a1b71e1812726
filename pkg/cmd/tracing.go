package cmd

import (
	"context"
	"fmt"

	"github.com/guildhall/guildhall/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewTracer returns an OTLP-exporting tracer when enabled, a no-op one
// otherwise, with the func that flushes and stops it.
//
//nolint:ireturn // trace.Tracer is the OpenTelemetry API surface
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer(serviceName), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}
