package service

import (
	"context"
	"errors"

	"enrolld/internal/enrollment/committer"
	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/validation"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/platform/sentinel"
	"enrolld/pkg/requestcontext"
)

// SubmitCommand creates or replaces a pending application.
type SubmitCommand struct {
	NationalID domain.NationalID
	Profile    models.Profile
	Selectors  models.Selectors
}

// Submit stores the applicant's profile and selection. An existing pending
// record keeps its documents, submission time and deadline history;
// processed records cannot be replaced.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*models.PendingApplication, error) {
	if err := committer.CheckReferences(ctx, s.catalog, cmd.Selectors); err != nil {
		return nil, translateStoreError(err, "failed to check selectors")
	}

	unlock, err := s.lock(ctx, cmd.NationalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := requestcontext.Now(ctx).UTC()
	app, err := s.pending.Get(ctx, cmd.NationalID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		app = &models.PendingApplication{
			NationalID:  cmd.NationalID,
			SubmittedAt: now,
			State:       models.StatePending,
			Files:       models.FileMap{},
		}
	case err != nil:
		return nil, translateStoreError(err, "failed to load application")
	case app.State.IsTerminal():
		return nil, dErrors.New(dErrors.CodeInvalidState, "application is already processed")
	}

	app.Profile = cmd.Profile
	app.Selectors = cmd.Selectors
	stored, err := s.pending.Upsert(ctx, app)
	if err != nil {
		return nil, translateStoreError(err, "failed to save application")
	}
	s.logger.InfoContext(ctx, "application submitted",
		"national_id", cmd.NationalID.String(),
		"version", stored.Version,
		"request_id", requestcontext.RequestID(ctx),
	)
	return stored, nil
}

// ApplicationView is a record with its computed status.
type ApplicationView struct {
	Application  *models.PendingApplication `json:"application"`
	Requirements models.RequirementSet      `json:"requirements"`
	Validation   models.ValidationResult    `json:"validation"`
	Deadline     models.DeadlineState       `json:"deadline"`
}

// Get returns the record, annotated with its committed status, plus a
// validation preview under its current selectors.
func (s *Service) Get(ctx context.Context, id domain.NationalID) (*ApplicationView, error) {
	app, err := s.pending.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "failed to load application")
	}
	return s.view(ctx, app), nil
}

func (s *Service) view(ctx context.Context, app *models.PendingApplication) *ApplicationView {
	reqs := s.resolver.Resolve(app.Selectors.ModalityID, app.Selectors.PlanID)
	return &ApplicationView{
		Application:  app,
		Requirements: reqs,
		Validation:   validation.Validate(reqs, app.Files),
		Deadline:     s.tracker.DeadlineState(app, requestcontext.Now(ctx)),
	}
}
