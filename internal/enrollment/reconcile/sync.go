// Package reconcile marks pending applications whose identifier is already
// present in the committed store.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
	"enrolld/pkg/platform/sentinel"
)

// Lookup is the read side of the committed store.
type Lookup interface {
	FindStudentByNationalID(ctx context.Context, id domain.NationalID) (*models.Student, error)
	CountEnrollments(ctx context.Context, studentID int64) (int, error)
	CountDocuments(ctx context.Context, studentID int64) (int, error)
	SummariesByNationalIDs(ctx context.Context, ids []domain.NationalID) (map[domain.NationalID]models.CommittedSummary, error)
}

// Sync annotates records on read. It never changes State and never fails the
// read: lookup errors are logged and the record is returned un-annotated.
type Sync struct {
	lookup Lookup
	logger *slog.Logger
}

// New creates a Sync over lookup.
func New(lookup Lookup, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{lookup: lookup, logger: logger}
}

// Annotate sets AlreadyCommitted and the committed summary on app.
func (s *Sync) Annotate(ctx context.Context, app *models.PendingApplication) {
	if app == nil {
		return
	}
	student, err := s.lookup.FindStudentByNationalID(ctx, app.NationalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "reconciliation lookup failed",
			"national_id", app.NationalID.String(), "error", err)
		return
	}

	var summary models.CommittedSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.lookup.CountEnrollments(gctx, student.ID)
		summary.EnrollmentCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.lookup.CountDocuments(gctx, student.ID)
		summary.DocumentCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "reconciliation summary failed",
			"national_id", app.NationalID.String(), "error", err)
		return
	}

	app.AlreadyCommitted = true
	app.CommittedSummary = &summary
}

// AnnotateAll annotates apps with a single batched lookup.
func (s *Sync) AnnotateAll(ctx context.Context, apps []*models.PendingApplication) {
	if len(apps) == 0 {
		return
	}
	ids := make([]domain.NationalID, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.NationalID)
	}
	summaries, err := s.lookup.SummariesByNationalIDs(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "batched reconciliation lookup failed",
			"records", len(apps), "error", err)
		return
	}
	for _, app := range apps {
		if summary, ok := summaries[app.NationalID]; ok {
			app.AlreadyCommitted = true
			app.CommittedSummary = &summary
		}
	}
}
