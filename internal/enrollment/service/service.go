// Package service runs the pending-registration pipeline: it decides whether
// an application is complete, commits it when it is, and otherwise keeps it
// pending with a fresh deadline.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"enrolld/internal/enrollment/committer"
	"enrolld/internal/enrollment/events"
	"enrolld/internal/enrollment/expiration"
	"enrolld/internal/enrollment/metrics"
	"enrolld/internal/enrollment/migrator"
	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/store/pending"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/platform/sentinel"
)

// PendingStore persists interim applications.
type PendingStore interface {
	Get(ctx context.Context, id domain.NationalID) (*models.PendingApplication, error)
	Upsert(ctx context.Context, app *models.PendingApplication) (*models.PendingApplication, error)
	Remove(ctx context.Context, id domain.NationalID) error
	ListAll(ctx context.Context) ([]*models.PendingApplication, error)
}

// FileMigrator stages uploads and moves documents into the permanent tier.
type FileMigrator interface {
	StoreUpload(ctx context.Context, tier migrator.Tier, app *models.PendingApplication, slot models.Slot, ext string, r io.Reader) (string, error)
	Promote(ctx context.Context, files models.FileMap) (models.FileMap, error)
	Discard(ctx context.Context, staged []string)
	Migrate(ctx context.Context, app *models.PendingApplication, files models.FileMap) (models.FileMap, []models.MigrationRecord, error)
	Rollback(ctx context.Context, records []models.MigrationRecord) error
	Release(ctx context.Context, records []models.MigrationRecord)
}

// Committer writes a complete application to the committed store.
type Committer interface {
	Commit(ctx context.Context, app *models.PendingApplication, files models.FileMap) (*models.CommittedEnrollment, error)
}

// Resolver computes requirements for a selection.
type Resolver interface {
	Resolve(modality domain.ModalityID, plan domain.PlanID) models.RequirementSet
}

// EventPublisher notifies downstream collaborators of a commit.
type EventPublisher interface {
	PublishEnrollmentCommitted(ctx context.Context, event events.EnrollmentCommitted) error
}

const lockPrefix = "pending:"

// Service orchestrates intake, processing and operator actions.
type Service struct {
	pending        PendingStore
	files          FileMigrator
	committer      Committer
	catalog        committer.CatalogReader
	resolver       Resolver
	tracker        *expiration.Tracker
	publisher      EventPublisher
	locker         pending.Locker
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	removeOnCommit bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher sets the committed-event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLocker sets the per-identifier locker. It must be shared by every
// Service acting on the same pending store.
func WithLocker(l pending.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithRemoveOnCommit removes committed records instead of marking them PROCESSED.
func WithRemoveOnCommit(remove bool) Option {
	return func(s *Service) {
		s.removeOnCommit = remove
	}
}

// New wires the pipeline.
func New(
	pendingStore PendingStore,
	files FileMigrator,
	commit Committer,
	catalog committer.CatalogReader,
	resolver Resolver,
	tracker *expiration.Tracker,
	opts ...Option,
) *Service {
	s := &Service{
		pending:   pendingStore,
		files:     files,
		committer: commit,
		catalog:   catalog,
		resolver:  resolver,
		tracker:   tracker,
		logger:    slog.Default(),
		tracer:    otel.Tracer("enrolld/enrollment/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = pending.NewKeyedLocker()
	}
	return s
}

func (s *Service) lock(ctx context.Context, id domain.NationalID) (func(), error) {
	return s.locker.Lock(ctx, lockPrefix+id.String())
}

// translateStoreError maps store facts to domain errors.
func translateStoreError(err error, action string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "application not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "application was modified concurrently; retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, action)
	}
}
