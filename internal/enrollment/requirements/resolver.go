// Package requirements decides which documents an application needs for a
// given (modality, plan) selection.
package requirements

import (
	"log/slog"
	"slices"
	"sync/atomic"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
)

// FallbackRecorder counts resolutions that matched no enumerated rule.
type FallbackRecorder interface {
	IncrementRequirementFallback()
}

// Resolver maps selectors to a RequirementSet using the current rule table.
// Each call reads one table snapshot; Swap replaces it atomically.
type Resolver struct {
	table   atomic.Pointer[Table]
	logger  *slog.Logger
	metrics FallbackRecorder
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the fallback counter.
func WithMetrics(m FallbackRecorder) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver. A nil table means the embedded defaults.
func NewResolver(table *Table, opts ...Option) *Resolver {
	if table == nil {
		table = DefaultTable()
	}
	r := &Resolver{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.table.Store(table)
	return r
}

// Swap installs a new rule table for subsequent calls.
func (r *Resolver) Swap(table *Table) {
	if table != nil {
		r.table.Store(table)
	}
}

// Resolve returns the basic slots, in fixed order, plus the alternative pair
// enumerated for the combination. Combinations without a rule fall back to the
// basic slots only.
func (r *Resolver) Resolve(modality domain.ModalityID, plan domain.PlanID) models.RequirementSet {
	set := models.RequirementSet{Basic: slices.Clone(models.BasicSlots)}
	pair, ok := r.table.Load().Lookup(modality, plan)
	if !ok {
		r.logger.Warn("requirement rules fallback: basic documents only",
			"modality_id", int64(modality),
			"plan_id", int64(plan),
		)
		if r.metrics != nil {
			r.metrics.IncrementRequirementFallback()
		}
		return set
	}
	set.Pair = &pair
	return set
}
