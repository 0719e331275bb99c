package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Committer,EventPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"enrolld/internal/enrollment/committer"
	"enrolld/internal/enrollment/events"
	"enrolld/internal/enrollment/expiration"
	"enrolld/internal/enrollment/migrator"
	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/requirements"
	"enrolld/internal/enrollment/service/mocks"
	"enrolld/internal/enrollment/store/committed"
	"enrolld/internal/enrollment/store/pending"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/requestcontext"
)

const juan = domain.NationalID("30111222")

type ServiceSuite struct {
	suite.Suite
	root      string
	pending   *pending.Store
	files     *migrator.Migrator
	committed *committed.InMemoryStore
	publisher *events.InMemoryPublisher
	resolver  *requirements.Resolver
	tracker   *expiration.Tracker
	service   *Service
	now       time.Time
	ctx       context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.root = s.T().TempDir()

	store, err := pending.New(filepath.Join(s.root, "pending.json"))
	s.Require().NoError(err)
	s.pending = store

	files, err := migrator.New(filepath.Join(s.root, "uploads"), migrator.WithLogger(logger))
	s.Require().NoError(err)
	s.files = files

	s.committed = committed.NewInMemory(committed.DefaultCatalog())
	s.publisher = events.NewInMemoryPublisher()
	s.resolver = requirements.NewResolver(nil, requirements.WithLogger(logger))
	s.tracker = expiration.New(7 * 24 * time.Hour)
	s.service = s.newService(committer.New(committer.NewInMemoryTx(s.committed)), s.publisher)

	s.now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) newService(c Committer, p EventPublisher, opts ...Option) *Service {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPublisher(p),
	}, opts...)
	return New(s.pending, s.files, c, s.committed, s.resolver, s.tracker, opts...)
}

func (s *ServiceSuite) submitJuan() {
	_, err := s.service.Submit(s.ctx, SubmitCommand{
		NationalID: juan,
		Profile: models.Profile{
			FirstName: "Juan", LastName: "Perez", Email: "juan.perez@example.com",
			Domicile: models.Domicile{Street: "Calle 7", Number: "1234", Province: "Buenos Aires"},
		},
		Selectors: models.Selectors{ModalityID: 1, PlanID: 1},
	})
	s.Require().NoError(err)
}

func upload(slot models.Slot) Upload {
	return Upload{Slot: slot, Ext: ".pdf", Reader: strings.NewReader("scan of " + string(slot))}
}

func basicUploads() []Upload {
	out := make([]Upload, 0, len(models.BasicSlots))
	for _, slot := range models.BasicSlots {
		out = append(out, upload(slot))
	}
	return out
}

func (s *ServiceSuite) processBasics() *ProcessResult {
	result, err := s.service.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: basicUploads()})
	s.Require().NoError(err)
	return result
}

// tierEntries lists the file names currently in a storage tier.
func (s *ServiceSuite) tierEntries(tier migrator.Tier) []string {
	entries, err := os.ReadDir(filepath.Join(s.root, "uploads", string(tier)))
	s.Require().NoError(err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (s *ServiceSuite) requireNoStagedUploads() {
	for _, name := range s.tierEntries(migrator.TierIntake) {
		s.False(strings.HasPrefix(name, "."), "leftover upload %s", name)
	}
}

func (s *ServiceSuite) TestJuanPerezScenarios() {
	s.submitJuan()

	s.Run("basics only stays pending with the pair missing", func() {
		result := s.processBasics()
		s.Equal(models.StatePending, result.State)
		s.Equal([]string{"prior-level-certificate or transfer-letter"}, result.MissingDocuments)
		s.Require().NotNil(result.Deadline)
		s.Equal(s.now.Add(7*24*time.Hour), result.Deadline.Deadline)

		stored, err := s.pending.Get(s.ctx, juan)
		s.Require().NoError(err)
		s.Len(stored.Files, 5)
		s.Contains(stored.Reason, "prior-level-certificate or transfer-letter")
		s.Empty(s.committed.Students())
	})

	s.Run("transfer letter completes and commits", func() {
		result, err := s.service.Process(s.ctx, ProcessCommand{
			NationalID: juan,
			Uploads:    []Upload{upload(models.SlotTransferLetter)},
		})
		s.Require().NoError(err)
		s.Equal(models.StateProcessed, result.State)
		s.Equal(models.SlotTransferLetter, result.UsedAlternative)
		s.NotZero(result.CommittedEnrollmentID)

		s.Len(s.committed.Students(), 1)
		s.Len(s.committed.Enrollments(), 1)
		s.Len(s.committed.Documents(), 6)

		stored, err := s.pending.Get(s.ctx, juan)
		s.Require().NoError(err)
		s.Equal(models.StateProcessed, stored.State)
		s.Equal(result.CommittedEnrollmentID, stored.CommittedEnrollmentID)
		for slot, path := range stored.Files {
			s.True(strings.HasPrefix(path, "permanent/"), "%s at %s", slot, path)
		}
		s.Len(s.publisher.Events(), 1)
	})

	s.Run("semi-attendance plan B adds a second enrollment for the same student", func() {
		result, err := s.service.Process(s.ctx, ProcessCommand{
			NationalID: juan,
			Selectors:  &models.Selectors{ModalityID: 2, PlanID: 5, ModuleID: 3},
		})
		s.Require().NoError(err)
		s.Equal(models.StateProcessed, result.State)
		s.False(result.Committed.StudentCreated)
		s.True(result.Committed.EnrollmentCreated)

		s.Len(s.committed.Students(), 1)
		s.Len(s.committed.Enrollments(), 2)

		stored, err := s.pending.Get(s.ctx, juan)
		s.Require().NoError(err)
		s.Equal(models.StateProcessed, stored.State)
		s.Equal(models.Selectors{ModalityID: 2, PlanID: 5, ModuleID: 3}, stored.Selectors)
	})
}

func (s *ServiceSuite) TestDeadlineNeverMovesBackwards() {
	s.submitJuan()
	_, err := s.service.ResetAlarm(s.ctx, juan, 30, "waiting on school")
	s.Require().NoError(err)

	result := s.processBasics()
	s.True(result.Deadline.Deadline.After(s.now.Add(30*24*time.Hour)))
	s.Equal(s.now.Add(37*24*time.Hour), result.Deadline.Deadline)

	stored, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	s.Require().Len(stored.Extensions, 2, "operator reset plus the automatic one")
	last := stored.Extensions[1]
	s.Equal(37, last.Days)
	s.Equal(*stored.Deadline, last.Date.Add(time.Duration(last.Days)*24*time.Hour))
}

func (s *ServiceSuite) TestDeadlineAdvancesOnLaterIncompleteAttempts() {
	s.submitJuan()
	s.processBasics()

	later := s.now.Add(3 * 24 * time.Hour)
	result, err := s.service.Process(requestcontext.WithTime(context.Background(), later), ProcessCommand{NationalID: juan})
	s.Require().NoError(err)
	s.Equal(s.now.Add(14*24*time.Hour), result.Deadline.Deadline)

	again, err := s.service.Process(requestcontext.WithTime(context.Background(), later), ProcessCommand{NationalID: juan})
	s.Require().NoError(err)
	s.True(again.Deadline.Deadline.After(result.Deadline.Deadline))
}

func (s *ServiceSuite) TestCommitFailureRollsBackMigration() {
	ctrl := gomock.NewController(s.T())
	failing := mocks.NewMockCommitter(ctrl)
	failing.EXPECT().Commit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.Wrap(errors.New("connection reset"), dErrors.CodeCommitFailed, "could not commit enrollment"))
	publisher := mocks.NewMockEventPublisher(ctrl)
	svc := s.newService(failing, publisher)

	s.submitJuan()
	s.processBasics()
	before, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)

	_, err = svc.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
	s.True(dErrors.HasCode(err, dErrors.CodeCommitFailed))

	after, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	s.Equal(before, after, "pending record untouched")

	for _, path := range before.Files {
		abs, err := s.files.Resolve(path)
		s.Require().NoError(err)
		s.FileExists(abs, "origin restored")
	}
	s.Empty(s.tierEntries(migrator.TierPermanent))
	s.Len(s.tierEntries(migrator.TierIntake), 5, "the rejected transfer letter is not kept")
	s.requireNoStagedUploads()
}

func (s *ServiceSuite) TestFailedReprocessKeepsCommittedDocuments() {
	s.submitJuan()
	s.processBasics()
	_, err := s.service.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
	s.Require().NoError(err)

	committedPhoto := filepath.Join(s.root, "uploads", "permanent", "Juan_Perez_30111222_photo.pdf")
	s.Require().FileExists(committedPhoto)

	ctrl := gomock.NewController(s.T())
	failing := mocks.NewMockCommitter(ctrl)
	failing.EXPECT().Commit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeCommitFailed, "could not commit enrollment"))
	svc := s.newService(failing, s.publisher)

	retaken := Upload{Slot: models.SlotPhoto, Ext: ".pdf", Reader: strings.NewReader("retaken photo")}
	_, err = svc.Process(s.ctx, ProcessCommand{
		NationalID: juan,
		Selectors:  &models.Selectors{ModalityID: 2, PlanID: 5, ModuleID: 3},
		Uploads:    []Upload{retaken},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeCommitFailed))

	content, err := os.ReadFile(committedPhoto)
	s.Require().NoError(err)
	s.Equal("scan of photo", string(content), "the committed photo survives the failed attempt")
	s.Len(s.tierEntries(migrator.TierPermanent), 6)
	s.requireNoStagedUploads()
}

func (s *ServiceSuite) TestMigrationFailureOnThirdFileLeavesEverythingAsIs() {
	s.submitJuan()
	s.processBasics()

	before, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	taxID, err := s.files.Resolve(before.Files[models.SlotTaxID])
	s.Require().NoError(err)
	s.Require().NoError(os.Remove(taxID))
	s.Require().NoError(os.Mkdir(taxID, 0o750))

	_, err = s.service.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
	s.True(dErrors.HasCode(err, dErrors.CodeMigrationFailed))

	after, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	s.Equal(before, after)
	s.Empty(s.committed.Students())
	s.Empty(s.tierEntries(migrator.TierPermanent))
	s.requireNoStagedUploads()
}

func (s *ServiceSuite) TestInvalidReferencesWriteNothing() {
	s.submitJuan()
	before, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)

	_, err = s.service.Process(s.ctx, ProcessCommand{
		NationalID: juan,
		Selectors:  &models.Selectors{ModalityID: 2, PlanID: 5},
		Uploads:    basicUploads(),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	after, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	s.Equal(before, after)
	intake, err := os.ReadDir(filepath.Join(s.root, "uploads", "intake"))
	s.Require().NoError(err)
	s.Empty(intake, "uploads are not stored for rejected selectors")
}

func (s *ServiceSuite) TestProcessedRecordMissingNewRequirementsFails() {
	s.submitJuan()
	s.processBasics()
	_, err := s.service.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
	s.Require().NoError(err)

	_, err = s.service.Process(s.ctx, ProcessCommand{
		NationalID: juan,
		Selectors:  &models.Selectors{ModalityID: 1, PlanID: 2},
	})
	s.Require().NoError(err, "transfer letter satisfies the 2nd year pair as well")

	s.Require().NoError(os.WriteFile(filepath.Join(s.root, "rules.yaml"), []byte(
		"rules:\n  - modality: 1\n    plans: [3]\n    pair: {preferred: partial-transcript, alternative: prior-level-certificate}\n"), 0o600))
	table, err := requirements.LoadTable(filepath.Join(s.root, "rules.yaml"))
	s.Require().NoError(err)
	s.resolver.Swap(table)

	_, err = s.service.Process(s.ctx, ProcessCommand{
		NationalID: juan,
		Selectors:  &models.Selectors{ModalityID: 1, PlanID: 3},
		Uploads:    []Upload{upload(models.SlotPhoto)},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.ErrorContains(err, "partial-transcript or prior-level-certificate")
	s.requireNoStagedUploads()

	stored, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	s.Equal(models.StateProcessed, stored.State)
}

func (s *ServiceSuite) TestPublishFailureDoesNotFailCommit() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockEventPublisher(ctrl)
	publisher.EXPECT().PublishEnrollmentCommitted(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	svc := s.newService(committer.New(committer.NewInMemoryTx(s.committed)), publisher)

	s.submitJuan()
	s.processBasics()
	result, err := svc.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
	s.Require().NoError(err)
	s.Equal(models.StateProcessed, result.State)
}

func (s *ServiceSuite) TestRemoveOnCommit() {
	svc := s.newService(committer.New(committer.NewInMemoryTx(s.committed)), s.publisher, WithRemoveOnCommit(true))
	s.submitJuan()
	s.processBasics()

	_, err := svc.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
	s.Require().NoError(err)
	_, err = s.service.Get(s.ctx, juan)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestConcurrentCompleteAttemptsCommitOnce() {
	s.submitJuan()
	s.processBasics()
	_, err := s.service.Process(s.ctx, ProcessCommand{NationalID: juan})
	s.Require().NoError(err)

	// Deliver the last document, then race two triggers.
	app, err := s.pending.Get(s.ctx, juan)
	s.Require().NoError(err)
	stored, err := s.files.StoreUpload(s.ctx, migrator.TierIntake, app, models.SlotTransferLetter, ".pdf", strings.NewReader("letter"))
	s.Require().NoError(err)
	app.Files[models.SlotTransferLetter] = stored
	_, err = s.pending.Upsert(s.ctx, app)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.service.Process(s.ctx, ProcessCommand{NationalID: juan})
			if s.NoError(err) {
				s.Equal(models.StateProcessed, result.State)
			}
		}()
	}
	wg.Wait()

	s.Len(s.committed.Students(), 1)
	s.Len(s.committed.Enrollments(), 1)
	s.Len(s.committed.Documents(), 6)
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("rejects unknown references", func() {
		_, err := s.service.Submit(s.ctx, SubmitCommand{NationalID: juan, Selectors: models.Selectors{ModalityID: 7, PlanID: 1}})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("resubmission keeps documents and submission time", func() {
		s.submitJuan()
		s.processBasics()
		later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
		app, err := s.service.Submit(later, SubmitCommand{
			NationalID: juan,
			Profile:    models.Profile{FirstName: "Juan Carlos", LastName: "Perez"},
			Selectors:  models.Selectors{ModalityID: 1, PlanID: 2},
		})
		s.Require().NoError(err)
		s.Equal(s.now, app.SubmittedAt)
		s.Len(app.Files, 5)
		s.Equal("Juan Carlos", app.Profile.FirstName)
	})

	s.Run("processed records cannot be replaced", func() {
		_, err := s.service.Process(s.ctx, ProcessCommand{NationalID: juan, Uploads: []Upload{upload(models.SlotTransferLetter)}})
		s.Require().NoError(err)
		_, err = s.service.Submit(s.ctx, SubmitCommand{NationalID: juan, Selectors: models.Selectors{ModalityID: 1, PlanID: 1}})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ServiceSuite) TestUnknownApplication() {
	_, err := s.service.Process(s.ctx, ProcessCommand{NationalID: "99999999"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.service.Get(s.ctx, "99999999")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.HasCode(s.service.Remove(s.ctx, "99999999"), dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAdminOperations() {
	s.submitJuan()
	s.processBasics()

	s.Run("get previews missing documents and deadline", func() {
		view, err := s.service.Get(s.ctx, juan)
		s.Require().NoError(err)
		s.False(view.Validation.Complete)
		s.Equal(7, view.Deadline.DaysRemaining)
	})

	s.Run("overdue listing", func() {
		views, err := s.service.List(s.ctx, ListFilter{OverdueOnly: true})
		s.Require().NoError(err)
		s.Empty(views)

		late := requestcontext.WithTime(context.Background(), s.now.Add(9*24*time.Hour))
		views, err = s.service.List(late, ListFilter{OverdueOnly: true})
		s.Require().NoError(err)
		s.Require().Len(views, 1)
		s.Equal(-2, views[0].Deadline.DaysRemaining)
	})

	s.Run("operator reset records who asked", func() {
		ctx := requestcontext.WithOperator(s.ctx, "registrar")
		view, err := s.service.ResetAlarm(ctx, juan, 3, "")
		s.Require().NoError(err)
		s.Equal(3, view.Deadline.DaysRemaining)
		ext := view.Application.Extensions
		s.Equal("deadline reset (by registrar)", ext[len(ext)-1].Reason)

		_, err = s.service.ResetAlarm(ctx, juan, 0, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("remove", func() {
		s.Require().NoError(s.service.Remove(s.ctx, juan))
		views, err := s.service.List(s.ctx, ListFilter{})
		s.Require().NoError(err)
		s.Empty(views)
	})
}
