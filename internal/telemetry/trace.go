package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartProviderSpan creates a span for an identity provider call.
//
//	ctx, span := telemetry.StartProviderSpan(ctx, "remote", "verify_credentials")
//	defer span.End()
func StartProviderSpan(ctx context.Context, providerName, operation string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, "provider."+operation)
	span.SetAttributes(
		attribute.String("provider", providerName),
		attribute.String("operation", operation),
	)
	return ctx, span
}

// StartSessionSpan creates a span for a session manager operation.
func StartSessionSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, "session."+operation)
	span.SetAttributes(attribute.String("operation", operation))
	return ctx, span
}

// RecordError records err on the span and marks it failed. A nil err marks
// the span successful.
func RecordError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
