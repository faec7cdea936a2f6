package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/migratestate"

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants
const (
	SpanOperationStateLoad SpanOperation = "state.load"
	SpanOperationStateSave SpanOperation = "state.save"
	SpanOperationMigrate   SpanOperation = "migrate.run"
)

// SpanOption adds attributes to a span started by this package.
type SpanOption func(*spanOptions)

type spanOptions struct {
	backend    string
	attributes []attribute.KeyValue
}

// WithBackend names the state store backend, e.g. "mongodb".
func WithBackend(backend string) SpanOption {
	return func(opts *spanOptions) {
		opts.backend = backend
		opts.attributes = append(opts.attributes, attribute.String("state_store.backend", backend))
	}
}

// WithCommand records the migrate subcommand being run.
func WithCommand(command string) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("migrate.command", command))
	}
}

// WithRunID records the run identifier shared with the logs.
func WithRunID(runID string) SpanOption {
	return func(opts *spanOptions) {
		if runID != "" {
			opts.attributes = append(opts.attributes, attribute.String("migrate.run_id", runID))
		}
	}
}

// StartStateSpan creates a client span around one state store call.
func StartStateSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	so := collect(operation, opts)
	name := fmt.Sprintf("StateStore %s", operation)
	if so.backend != "" {
		name = fmt.Sprintf("StateStore %s %s", operation, so.backend)
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(so.attributes...)
	return ctx, span
}

// StartRunSpan creates the root span for one CLI invocation.
func StartRunSpan(ctx context.Context, opts ...SpanOption) (context.Context, trace.Span) {
	so := collect(SpanOperationMigrate, opts)
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, string(SpanOperationMigrate), trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(so.attributes...)
	return ctx, span
}

func collect(operation SpanOperation, opts []SpanOption) *spanOptions {
	so := &spanOptions{
		attributes: []attribute.KeyValue{attribute.String("operation", string(operation))},
	}
	for _, opt := range opts {
		opt(so)
	}
	return so
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
