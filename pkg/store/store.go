// Package store builds the migration state store selected by configuration and
// instruments it.
package store

import (
	"context"
	"time"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/metrics"
	"github.com/nimburion/migratestate/pkg/observability/tracing"
)

// Instrument wraps s so every Load and Save gets a span and is counted and
// timed in m. A nil m records spans only.
func Instrument(s migrate.StateStore, backend string, m *metrics.StateMetrics) migrate.StateStore {
	return &instrumented{next: s, backend: backend, metrics: m, now: time.Now}
}

type instrumented struct {
	next    migrate.StateStore
	backend string
	metrics *metrics.StateMetrics
	now     func() time.Time
}

func (i *instrumented) Load(ctx context.Context) (*migrate.State, error) {
	ctx, span := tracing.StartStateSpan(ctx, tracing.SpanOperationStateLoad, tracing.WithBackend(i.backend))
	defer span.End()

	start := i.now()
	state, err := i.next.Load(ctx)
	i.observe("load", start, err)

	if err != nil && !migrate.IsNotFound(err) {
		tracing.RecordError(span, err)
	} else {
		tracing.RecordSuccess(span)
	}
	return state, err
}

func (i *instrumented) Save(ctx context.Context, state *migrate.State) error {
	ctx, span := tracing.StartStateSpan(ctx, tracing.SpanOperationStateSave, tracing.WithBackend(i.backend))
	defer span.End()

	start := i.now()
	err := i.next.Save(ctx, state)
	i.observe("save", start, err)

	if err != nil {
		tracing.RecordError(span, err)
	} else {
		tracing.RecordSuccess(span)
	}
	return err
}

func (i *instrumented) observe(operation string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case migrate.IsNotFound(err):
		outcome = metrics.OutcomeNotFound
	case err != nil:
		outcome = metrics.OutcomeError
	}
	i.metrics.ObserveOperation(i.backend, operation, outcome, i.now().Sub(start))
}
