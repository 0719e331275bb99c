package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the processing pipeline.
type Metrics struct {
	// Processing outcomes: pending, processed, validation_error, migration_failed, commit_failed
	ProcessOutcome *prometheus.CounterVec

	// End-to-end latency of one processing attempt
	ProcessLatency prometheus.Histogram

	// Files moved into the permanent tier
	FilesMigrated prometheus.Counter

	// Migrations undone after a failed commit
	MigrationRollbacks prometheus.Counter

	// Resolutions that matched no rule and fell back to basics only
	RequirementFallbacks prometheus.Counter

	// Events that could not be published after a successful commit
	EventPublishFailures prometheus.Counter

	// Alarm resets by operators
	AlarmResets prometheus.Counter
}

// New creates a new Metrics instance registered with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProcessOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enrolld_process_outcomes_total",
			Help: "Processing attempts by outcome",
		}, []string{"outcome"}),

		ProcessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "enrolld_process_duration_seconds",
			Help:    "Duration of one processing attempt including migration and commit",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		FilesMigrated: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrolld_files_migrated_total",
			Help: "Documents copied into the permanent tier",
		}),

		MigrationRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrolld_migration_rollbacks_total",
			Help: "Migrations rolled back after a failed commit",
		}),

		RequirementFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrolld_requirement_fallbacks_total",
			Help: "Requirement resolutions that used the basics-only fallback",
		}),

		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrolld_event_publish_failures_total",
			Help: "Committed-enrollment events that failed to publish",
		}),

		AlarmResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrolld_alarm_resets_total",
			Help: "Deadline resets applied by operators",
		}),
	}
}

// IncrementOutcome records a processing outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.ProcessOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveProcessLatency records the duration of one processing attempt.
func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	if m != nil {
		m.ProcessLatency.Observe(d.Seconds())
	}
}

// AddFilesMigrated counts documents moved to the permanent tier.
func (m *Metrics) AddFilesMigrated(n int) {
	if m != nil && n > 0 {
		m.FilesMigrated.Add(float64(n))
	}
}

// IncrementMigrationRollback records an undone migration.
func (m *Metrics) IncrementMigrationRollback() {
	if m != nil {
		m.MigrationRollbacks.Inc()
	}
}

// IncrementRequirementFallback records a basics-only resolution.
func (m *Metrics) IncrementRequirementFallback() {
	if m != nil {
		m.RequirementFallbacks.Inc()
	}
}

// IncrementEventPublishFailure records an event lost after commit.
func (m *Metrics) IncrementEventPublishFailure() {
	if m != nil {
		m.EventPublishFailures.Inc()
	}
}

// IncrementAlarmReset records an operator deadline reset.
func (m *Metrics) IncrementAlarmReset() {
	if m != nil {
		m.AlarmResets.Inc()
	}
}
