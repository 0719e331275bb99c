// Package committer writes a complete application into the committed store
// in one transaction.
package committer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/platform/sentinel"
	"enrolld/pkg/requestcontext"
)

// CatalogReader validates selector references.
type CatalogReader interface {
	ModalityExists(ctx context.Context, id domain.ModalityID) (bool, error)
	PlanBelongsToModality(ctx context.Context, plan domain.PlanID, modality domain.ModalityID) (bool, error)
	ModuleBelongsToPlan(ctx context.Context, module domain.ModuleID, plan domain.PlanID) (bool, error)
}

// Store is the committed-store surface used inside a transaction.
type Store interface {
	CatalogReader
	FindStudentByNationalID(ctx context.Context, id domain.NationalID) (*models.Student, error)
	ResolveLocations(ctx context.Context, d models.Domicile) (models.Locations, error)
	InsertDomicile(ctx context.Context, d *models.CommittedDomicile) (int64, error)
	InsertStudent(ctx context.Context, s *models.Student) (int64, error)
	FindEnrollment(ctx context.Context, studentID int64, modality domain.ModalityID, plan domain.PlanID) (*models.Enrollment, error)
	InsertEnrollment(ctx context.Context, e *models.Enrollment) (int64, error)
	UpsertDocumentDetail(ctx context.Context, d *models.DocumentDetail) error
}

// TxRunner provides the transactional boundary. fn's store and context are
// bound to one transaction; returning an error rolls everything back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Committer persists applications idempotently per national ID.
type Committer struct {
	tx     TxRunner
	logger *slog.Logger
}

// Option configures a Committer.
type Option func(*Committer)

// WithLogger sets the committer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Committer) {
		c.logger = logger
	}
}

// New creates a committer over tx.
func New(tx TxRunner, opts ...Option) *Committer {
	c := &Committer{tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckReferences validates the selectors against the catalog. The module is
// required, and must belong to the plan, only for semi-attendance.
func CheckReferences(ctx context.Context, catalog CatalogReader, sel models.Selectors) error {
	ok, err := catalog.ModalityExists(ctx, sel.ModalityID)
	if err != nil {
		return fmt.Errorf("check modality: %w", err)
	}
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown modality %d", sel.ModalityID))
	}
	ok, err = catalog.PlanBelongsToModality(ctx, sel.PlanID, sel.ModalityID)
	if err != nil {
		return fmt.Errorf("check plan: %w", err)
	}
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("plan %d does not belong to modality %d", sel.PlanID, sel.ModalityID))
	}
	if sel.ModalityID != models.SemiAttendance {
		return nil
	}
	if sel.ModuleID == 0 {
		return dErrors.New(dErrors.CodeValidation, "module is required for semi-attendance enrollment")
	}
	ok, err = catalog.ModuleBelongsToPlan(ctx, sel.ModuleID, sel.PlanID)
	if err != nil {
		return fmt.Errorf("check module: %w", err)
	}
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("module %d does not belong to plan %d", sel.ModuleID, sel.PlanID))
	}
	return nil
}

// Commit writes the student (reused when present), the enrollment (reused
// when present) and one document detail per file. A unique violation caused
// by a concurrent commit of the same applicant is retried once; the retry
// finds and reuses the rows the other writer created.
func (c *Committer) Commit(ctx context.Context, app *models.PendingApplication, files models.FileMap) (*models.CommittedEnrollment, error) {
	result, err := c.commitOnce(ctx, app, files)
	if errors.Is(err, sentinel.ErrConflict) {
		c.logger.WarnContext(ctx, "commit raced with a concurrent writer; retrying",
			"national_id", app.NationalID.String())
		result, err = c.commitOnce(ctx, app, files)
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeCommitFailed, "could not commit enrollment")
	}
	return result, nil
}

func (c *Committer) commitOnce(ctx context.Context, app *models.PendingApplication, files models.FileMap) (*models.CommittedEnrollment, error) {
	var result *models.CommittedEnrollment
	err := c.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		if err := CheckReferences(ctx, store, app.Selectors); err != nil {
			return err
		}
		now := requestcontext.Now(ctx).UTC()
		out := &models.CommittedEnrollment{}

		studentID, created, err := c.ensureStudent(ctx, store, app, now)
		if err != nil {
			return err
		}
		out.StudentID = studentID
		out.StudentCreated = created

		enrollmentID, created, err := c.ensureEnrollment(ctx, store, studentID, app.Selectors, now)
		if err != nil {
			return err
		}
		out.EnrollmentID = enrollmentID
		out.EnrollmentCreated = created

		for _, slot := range models.AllSlots {
			stored := files[slot]
			if stored == "" {
				continue
			}
			if err := store.UpsertDocumentDetail(ctx, &models.DocumentDetail{
				EnrollmentID: enrollmentID,
				DocumentType: slot,
				Path:         stored,
				State:        models.DocumentStateDelivered,
				DeliveredAt:  now,
			}); err != nil {
				return err
			}
			out.Documents++
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Committer) ensureStudent(ctx context.Context, store Store, app *models.PendingApplication, now time.Time) (int64, bool, error) {
	existing, err := store.FindStudentByNationalID(ctx, app.NationalID)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return 0, false, err
	}

	d := app.Profile.Domicile
	loc, err := store.ResolveLocations(ctx, d)
	if err != nil {
		return 0, false, err
	}
	domicileID, err := store.InsertDomicile(ctx, &models.CommittedDomicile{
		Street:         strings.TrimSpace(d.Street),
		Number:         strings.TrimSpace(d.Number),
		Floor:          strings.TrimSpace(d.Floor),
		Apartment:      strings.TrimSpace(d.Apartment),
		PostalCode:     strings.TrimSpace(d.PostalCode),
		ProvinceID:     loc.ProvinceID,
		CityID:         loc.CityID,
		NeighborhoodID: loc.NeighborhoodID,
	})
	if err != nil {
		return 0, false, err
	}

	p := app.Profile
	studentID, err := store.InsertStudent(ctx, &models.Student{
		NationalID:  app.NationalID,
		FirstName:   strings.TrimSpace(p.FirstName),
		LastName:    strings.TrimSpace(p.LastName),
		Email:       strings.TrimSpace(p.Email),
		Phone:       strings.TrimSpace(p.Phone),
		BirthDate:   p.BirthDate,
		BirthPlace:  strings.TrimSpace(p.BirthPlace),
		Nationality: strings.TrimSpace(p.Nationality),
		Gender:      p.Gender,
		DomicileID:  domicileID,
		CreatedAt:   now,
	})
	if err != nil {
		return 0, false, err
	}
	return studentID, true, nil
}

func (c *Committer) ensureEnrollment(ctx context.Context, store Store, studentID int64, sel models.Selectors, now time.Time) (int64, bool, error) {
	existing, err := store.FindEnrollment(ctx, studentID, sel.ModalityID, sel.PlanID)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return 0, false, err
	}
	id, err := store.InsertEnrollment(ctx, &models.Enrollment{
		StudentID:  studentID,
		ModalityID: sel.ModalityID,
		PlanID:     sel.PlanID,
		ModuleID:   sel.ModuleID,
		EnrolledAt: now,
	})
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
