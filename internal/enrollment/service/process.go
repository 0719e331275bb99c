package service

import (
	"context"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"enrolld/internal/enrollment/committer"
	"enrolld/internal/enrollment/events"
	"enrolld/internal/enrollment/migrator"
	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/validation"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/requestcontext"
)

// Upload is one newly delivered document.
type Upload struct {
	Slot   models.Slot
	Ext    string
	Reader io.Reader
}

// ProcessCommand triggers one processing attempt. A nil Selectors keeps the
// stored selection.
type ProcessCommand struct {
	NationalID domain.NationalID
	Selectors  *models.Selectors
	Uploads    []Upload
}

// ProcessResult is the outcome of a processing attempt that did not fail.
type ProcessResult struct {
	State                 models.State                `json:"state"`
	CommittedEnrollmentID int64                       `json:"committed_enrollment_id,omitempty"`
	Committed             *models.CommittedEnrollment `json:"committed,omitempty"`
	MissingDocuments      []string                    `json:"missing_documents,omitempty"`
	UsedAlternative       models.Slot                 `json:"used_alternative,omitempty"`
	Deadline              *models.DeadlineState       `json:"deadline,omitempty"`
}

const (
	outcomePending         = "pending"
	outcomeProcessed       = "processed"
	outcomeInvalid         = "validation_error"
	outcomeMigrationFailed = "migration_failed"
	outcomeCommitFailed    = "commit_failed"
	outcomeError           = "error"
)

// Process validates the application against the requirements of its
// selection. Incomplete applications stay pending with a refreshed deadline;
// complete ones have their documents migrated and are committed. A failed
// commit undoes the migration and leaves the pending record as it was.
func (s *Service) Process(ctx context.Context, cmd ProcessCommand) (result *ProcessResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "enrollment.Process")
	defer func() {
		outcome := outcomeFor(result, err)
		span.SetAttributes(attribute.String("enrollment.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
		s.metrics.IncrementOutcome(outcome)
		s.metrics.ObserveProcessLatency(time.Since(start))
	}()

	unlock, err := s.lock(ctx, cmd.NationalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.pending.Get(ctx, cmd.NationalID)
	if err != nil {
		return nil, translateStoreError(err, "failed to load application")
	}
	if cmd.Selectors != nil {
		app.Selectors = *cmd.Selectors
	}
	if err := s.checkReferences(ctx, app.Selectors); err != nil {
		return nil, err
	}

	staged := make([]string, 0, len(cmd.Uploads))
	defer func() {
		if err != nil {
			s.files.Discard(ctx, staged)
		}
	}()
	for _, upload := range cmd.Uploads {
		stored, storeErr := s.files.StoreUpload(ctx, migrator.TierIntake, app, upload.Slot, upload.Ext, upload.Reader)
		if storeErr != nil {
			return nil, translateStoreError(storeErr, "failed to store upload")
		}
		staged = append(staged, stored)
		app.Files = app.Files.Merge(models.FileMap{upload.Slot: stored})
	}

	reqs := s.resolver.Resolve(app.Selectors.ModalityID, app.Selectors.PlanID)
	check := validation.Validate(reqs, app.Files)
	if !check.Complete {
		return s.keepPending(ctx, app, check)
	}
	return s.commit(ctx, app, check)
}

func (s *Service) checkReferences(ctx context.Context, sel models.Selectors) error {
	ctx, span := s.tracer.Start(ctx, "enrollment.CheckReferences")
	defer span.End()
	if err := committer.CheckReferences(ctx, s.catalog, sel); err != nil {
		return translateStoreError(err, "failed to check selectors")
	}
	return nil
}

func (s *Service) keepPending(ctx context.Context, app *models.PendingApplication, check models.ValidationResult) (*ProcessResult, error) {
	if app.State.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"application is already processed and the new selection is missing: "+strings.Join(check.Missing, ", "))
	}

	now := requestcontext.Now(ctx).UTC()
	app.Reason = "missing documents: " + strings.Join(check.Missing, ", ")
	if err := s.tracker.Extend(app, app.Reason, now); err != nil {
		return nil, err
	}
	files, err := s.files.Promote(ctx, app.Files)
	if err != nil {
		return nil, translateStoreError(err, "failed to store upload")
	}
	app.Files = files

	stored, err := s.pending.Upsert(ctx, app)
	if err != nil {
		return nil, translateStoreError(err, "failed to save application")
	}
	deadline := s.tracker.DeadlineState(stored, now)
	s.logger.InfoContext(ctx, "application incomplete",
		"national_id", app.NationalID.String(),
		"missing", check.Missing,
		"deadline", deadline.Deadline,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &ProcessResult{
		State:            models.StatePending,
		MissingDocuments: check.Missing,
		Deadline:         &deadline,
	}, nil
}

func (s *Service) commit(ctx context.Context, app *models.PendingApplication, check models.ValidationResult) (*ProcessResult, error) {
	required := validation.RequiredFiles(check, app.Files)

	migrateCtx, migrateSpan := s.tracer.Start(ctx, "enrollment.Migrate")
	migrated, records, err := s.files.Migrate(migrateCtx, app, required)
	migrateSpan.End()
	if err != nil {
		s.logger.ErrorContext(ctx, "document migration failed",
			"national_id", app.NationalID.String(), "error", err)
		return nil, err
	}
	s.metrics.AddFilesMigrated(len(records))

	commitCtx, commitSpan := s.tracer.Start(ctx, "enrollment.Commit")
	committed, err := s.committer.Commit(commitCtx, app, migrated)
	commitSpan.End()
	if err != nil {
		if rbErr := s.files.Rollback(ctx, records); rbErr != nil {
			s.logger.ErrorContext(ctx, "migration rollback incomplete",
				"national_id", app.NationalID.String(), "error", rbErr)
		}
		s.metrics.IncrementMigrationRollback()
		s.logger.ErrorContext(ctx, "enrollment commit failed; migration rolled back",
			"national_id", app.NationalID.String(), "error", err)
		if dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeCommitFailed) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeCommitFailed, "could not commit enrollment")
	}

	s.files.Release(ctx, records)

	now := requestcontext.Now(ctx).UTC()
	app.Files = app.Files.Merge(migrated)
	if files, err := s.files.Promote(ctx, app.Files); err != nil {
		s.logger.WarnContext(ctx, "unused upload left staged",
			"national_id", app.NationalID.String(), "error", err)
	} else {
		app.Files = files
	}
	app.State = models.StateProcessed
	app.CommittedEnrollmentID = committed.EnrollmentID
	app.Reason = ""
	s.finalize(ctx, app)

	s.publish(ctx, events.NewEnrollmentCommitted(app, migrated, committed, now))
	s.logger.InfoContext(ctx, "application committed",
		"national_id", app.NationalID.String(),
		"enrollment_id", committed.EnrollmentID,
		"student_created", committed.StudentCreated,
		"enrollment_created", committed.EnrollmentCreated,
		"documents", committed.Documents,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &ProcessResult{
		State:                 models.StateProcessed,
		CommittedEnrollmentID: committed.EnrollmentID,
		Committed:             committed,
		MissingDocuments:      []string{},
		UsedAlternative:       check.UsedAlternative,
	}, nil
}

// finalize records the terminal state. The commit is already durable, so a
// failure here is logged rather than returned: the next attempt adopts the
// migrated files and the re-commit is idempotent.
func (s *Service) finalize(ctx context.Context, app *models.PendingApplication) {
	var err error
	if s.removeOnCommit {
		err = s.pending.Remove(ctx, app.NationalID)
	} else {
		_, err = s.pending.Upsert(ctx, app)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "committed application could not be finalized in the pending store",
			"national_id", app.NationalID.String(), "remove", s.removeOnCommit, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event events.EnrollmentCommitted) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEnrollmentCommitted(ctx, event); err != nil {
		s.metrics.IncrementEventPublishFailure()
		s.logger.WarnContext(ctx, "committed enrollment event not published",
			"event_id", event.EventID, "error", err)
	}
}

func outcomeFor(result *ProcessResult, err error) string {
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeValidation, dErrors.CodeInvalidInput:
			return outcomeInvalid
		case dErrors.CodeMigrationFailed:
			return outcomeMigrationFailed
		case dErrors.CodeCommitFailed:
			return outcomeCommitFailed
		default:
			return outcomeError
		}
	}
	if result != nil && result.State == models.StateProcessed {
		return outcomeProcessed
	}
	return outcomePending
}
