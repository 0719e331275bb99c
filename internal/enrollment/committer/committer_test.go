package committer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/store/committed"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/platform/sentinel"
	"enrolld/pkg/requestcontext"
)

type CommitterSuite struct {
	suite.Suite
	store     *committed.InMemoryStore
	committer *Committer
	ctx       context.Context
}

func TestCommitterSuite(t *testing.T) {
	suite.Run(t, new(CommitterSuite))
}

func (s *CommitterSuite) SetupTest() {
	s.store = committed.NewInMemory(committed.DefaultCatalog())
	s.committer = New(NewInMemoryTx(s.store))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
}

func juanPerez() *models.PendingApplication {
	return &models.PendingApplication{
		NationalID: "30111222",
		State:      models.StatePending,
		Profile: models.Profile{
			FirstName: "Juan", LastName: "Perez", Email: "juan.perez@example.com",
			Domicile: models.Domicile{Street: "Calle 7", Number: "1234", Province: "Buenos Aires", City: "La Plata"},
		},
		Selectors: models.Selectors{ModalityID: 1, PlanID: 1},
	}
}

func sixDocuments() models.FileMap {
	files := models.FileMap{models.SlotTransferLetter: "permanent/Juan_Perez_30111222_transfer-letter.pdf"}
	for _, slot := range models.BasicSlots {
		files[slot] = fmt.Sprintf("permanent/Juan_Perez_30111222_%s.pdf", slot)
	}
	return files
}

func (s *CommitterSuite) TestFirstCommitCreatesEverything() {
	result, err := s.committer.Commit(s.ctx, juanPerez(), sixDocuments())
	s.Require().NoError(err)
	s.True(result.StudentCreated)
	s.True(result.EnrollmentCreated)
	s.Equal(6, result.Documents)

	s.Len(s.store.Students(), 1)
	s.Len(s.store.Domiciles(), 1)
	s.Len(s.store.Enrollments(), 1)
	s.Len(s.store.Documents(), 6)
	s.NotNil(s.store.Domiciles()[0].ProvinceID, "province resolved from catalog")
}

func (s *CommitterSuite) TestRecommitIsIdempotent() {
	first, err := s.committer.Commit(s.ctx, juanPerez(), sixDocuments())
	s.Require().NoError(err)

	again, err := s.committer.Commit(s.ctx, juanPerez(), sixDocuments())
	s.Require().NoError(err)
	s.False(again.StudentCreated)
	s.False(again.EnrollmentCreated)
	s.Equal(first.EnrollmentID, again.EnrollmentID)

	s.Len(s.store.Students(), 1)
	s.Len(s.store.Domiciles(), 1, "domicile is only created with a new student")
	s.Len(s.store.Enrollments(), 1)
	s.Len(s.store.Documents(), 6)
}

func (s *CommitterSuite) TestNewSelectorsAddSecondEnrollment() {
	_, err := s.committer.Commit(s.ctx, juanPerez(), sixDocuments())
	s.Require().NoError(err)

	app := juanPerez()
	app.Selectors = models.Selectors{ModalityID: 2, PlanID: 5, ModuleID: 3}
	result, err := s.committer.Commit(s.ctx, app, sixDocuments())
	s.Require().NoError(err)
	s.False(result.StudentCreated)
	s.True(result.EnrollmentCreated)

	s.Len(s.store.Students(), 1)
	s.Len(s.store.Enrollments(), 2)
	s.Len(s.store.Documents(), 12)
}

func (s *CommitterSuite) TestInvalidReferencesWriteNothing() {
	cases := map[string]models.Selectors{
		"unknown modality":             {ModalityID: 9, PlanID: 1},
		"plan of another modality":     {ModalityID: 1, PlanID: 5},
		"semi-attendance needs module": {ModalityID: 2, PlanID: 5},
		"module of another plan":       {ModalityID: 2, PlanID: 5, ModuleID: 1},
	}
	for name, sel := range cases {
		s.Run(name, func() {
			app := juanPerez()
			app.Selectors = sel
			_, err := s.committer.Commit(s.ctx, app, sixDocuments())
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
			s.Empty(s.store.Students())
			s.Empty(s.store.Domiciles())
		})
	}
}

func (s *CommitterSuite) TestFailureRollsBackTransaction() {
	failing := New(&storeWrappingTx{
		inner: NewInMemoryTx(s.store),
		wrap: func(st Store) Store {
			return &failingDocumentsStore{Store: st, failOn: 3}
		},
	})

	_, err := failing.Commit(s.ctx, juanPerez(), sixDocuments())
	s.True(dErrors.HasCode(err, dErrors.CodeCommitFailed))
	s.Empty(s.store.Students())
	s.Empty(s.store.Domiciles())
	s.Empty(s.store.Enrollments())
	s.Empty(s.store.Documents())
}

func (s *CommitterSuite) TestStudentRaceIsRetriedOnce() {
	tx := &racingTx{inner: NewInMemoryTx(s.store), store: s.store}
	racing := New(tx)

	result, err := racing.Commit(s.ctx, juanPerez(), sixDocuments())
	s.Require().NoError(err)
	s.Equal(2, tx.attempts)
	s.False(result.StudentCreated, "the retry reuses the concurrently created student")
	s.True(result.EnrollmentCreated)
	s.Len(s.store.Students(), 1)
}

func (s *CommitterSuite) TestPersistentConflictSurfacesAsCommitFailure() {
	always := New(&storeWrappingTx{
		inner: NewInMemoryTx(s.store),
		wrap: func(st Store) Store {
			return &conflictingStudentStore{Store: st}
		},
	})
	_, err := always.Commit(s.ctx, juanPerez(), sixDocuments())
	s.True(dErrors.HasCode(err, dErrors.CodeCommitFailed))
	s.ErrorIs(err, sentinel.ErrConflict)
}

type storeWrappingTx struct {
	inner TxRunner
	wrap  func(Store) Store
}

func (t *storeWrappingTx) RunInTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return t.inner.RunInTx(ctx, func(ctx context.Context, st Store) error {
		return fn(ctx, t.wrap(st))
	})
}

type failingDocumentsStore struct {
	Store
	calls  int
	failOn int
}

func (f *failingDocumentsStore) UpsertDocumentDetail(ctx context.Context, d *models.DocumentDetail) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("connection reset")
	}
	return f.Store.UpsertDocumentDetail(ctx, d)
}

type conflictingStudentStore struct {
	Store
}

func (c *conflictingStudentStore) InsertStudent(context.Context, *models.Student) (int64, error) {
	return 0, fmt.Errorf("insert student: %w", sentinel.ErrConflict)
}

// racingTx makes the first attempt lose a unique-constraint race: its student
// insert conflicts and, after it rolls back, the competing writer's student exists.
type racingTx struct {
	inner    TxRunner
	store    *committed.InMemoryStore
	attempts int
}

func (t *racingTx) RunInTx(ctx context.Context, fn func(context.Context, Store) error) error {
	t.attempts++
	if t.attempts > 1 {
		return t.inner.RunInTx(ctx, fn)
	}
	err := t.inner.RunInTx(ctx, func(ctx context.Context, st Store) error {
		return fn(ctx, &conflictingStudentStore{Store: st})
	})
	domicileID, _ := t.store.InsertDomicile(ctx, &models.CommittedDomicile{Street: "Other"})
	_, _ = t.store.InsertStudent(ctx, &models.Student{NationalID: "30111222", DomicileID: domicileID})
	return err
}
