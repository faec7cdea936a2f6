package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for state store operations.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// StateMetrics holds the collectors describing state store traffic and
// migration progress.
type StateMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	migrations *prometheus.CounterVec
}

// NewStateMetrics creates the state store collectors and registers them on reg.
func NewStateMetrics(reg *Registry) (*StateMetrics, error) {
	m := &StateMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migratestate_store_operations_total",
				Help: "Total number of state store operations",
			},
			[]string{"backend", "operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "migratestate_store_operation_duration_seconds",
				Help:    "State store operation duration in seconds, connection setup included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		migrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migratestate_migrations_total",
				Help: "Total number of migrations applied or reverted",
			},
			[]string{"direction"},
		),
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration, m.migrations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOperation records one state store call.
func (m *StateMetrics) ObserveOperation(backend, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(backend, operation, outcome).Inc()
	m.duration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// MigrationRan counts one applied ("up") or reverted ("down") migration.
func (m *StateMetrics) MigrationRan(direction string) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(direction).Inc()
}
