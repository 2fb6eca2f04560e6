package dbexec

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func startQuerySpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	tracer := otel.Tracer("blitzorm/dbexec")
	ctx, span := tracer.Start(ctx, "db."+operation)
	span.SetAttributes(attribute.String("db.operation", operation))
	return ctx, span
}

func finishQuerySpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
