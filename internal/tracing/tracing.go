// Package tracing wraps OpenTelemetry span handling. Without a configured
// SDK the global tracer is a no-op.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const instrumentation = "github.com/dshills/phiguard"

// StartSpan starts a span and returns a function that ends it, recording
// err when non-nil. Callers must not pass errors whose text may carry PHI.
//
//	ctx, end := tracing.StartSpan(ctx, "audit.append")
//	defer func() { end(err) }()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentation).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
