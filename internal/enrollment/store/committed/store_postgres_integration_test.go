//go:build integration

package committed_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/store/committed"
	"enrolld/pkg/domain"
	"enrolld/pkg/platform/sentinel"
	txcontext "enrolld/pkg/platform/tx"
	"enrolld/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *committed.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = committed.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order; catalog tables keep their seed.
	err := s.postgres.TruncateTables(ctx, "document_details", "enrollments", "students", "domiciles")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newStudent(ctx context.Context, id domain.NationalID) (int64, error) {
	domicileID, err := s.store.InsertDomicile(ctx, &models.CommittedDomicile{Street: "Calle 7", Number: "123"})
	if err != nil {
		return 0, err
	}
	return s.store.InsertStudent(ctx, &models.Student{
		NationalID: id, FirstName: "Juan", LastName: "Perez", Email: "juan@example.com",
		DomicileID: domicileID, CreatedAt: time.Now(),
	})
}

func (s *PostgresStoreSuite) TestCatalogSeed() {
	ctx := context.Background()
	ok, err := s.store.ModalityExists(ctx, 2)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.PlanBelongsToModality(ctx, 5, 2)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.ModuleBelongsToPlan(ctx, 1, 5)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestResolveLocations() {
	loc, err := s.store.ResolveLocations(context.Background(), models.Domicile{
		Province: "buenos aires", City: "La Plata", Neighborhood: "Tolosa",
	})
	s.Require().NoError(err)
	s.NotNil(loc.ProvinceID)
	s.NotNil(loc.CityID)
	s.NotNil(loc.NeighborhoodID)

	loc, err = s.store.ResolveLocations(context.Background(), models.Domicile{Province: "Atlantis", City: "La Plata"})
	s.Require().NoError(err)
	s.Nil(loc.ProvinceID)
	s.Nil(loc.CityID)
}

// TestConcurrentStudentInsert verifies the national ID constraint admits exactly one row.
func (s *PostgresStoreSuite) TestConcurrentStudentInsert() {
	ctx := context.Background()
	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.newStudent(ctx, "30111222")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflictCount.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *PostgresStoreSuite) TestEnrollmentAndDocuments() {
	ctx := context.Background()
	studentID, err := s.newStudent(ctx, "30111222")
	s.Require().NoError(err)

	enrollmentID, err := s.store.InsertEnrollment(ctx, &models.Enrollment{
		StudentID: studentID, ModalityID: 2, PlanID: 5, ModuleID: 3, EnrolledAt: time.Now(),
	})
	s.Require().NoError(err)

	_, err = s.store.InsertEnrollment(ctx, &models.Enrollment{StudentID: studentID, ModalityID: 2, PlanID: 5, EnrolledAt: time.Now()})
	s.ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.FindEnrollment(ctx, studentID, 2, 5)
	s.Require().NoError(err)
	s.Equal(domain.ModuleID(3), found.ModuleID)

	for _, path := range []string{"permanent/a.jpg", "permanent/b.jpg"} {
		s.Require().NoError(s.store.UpsertDocumentDetail(ctx, &models.DocumentDetail{
			EnrollmentID: enrollmentID, DocumentType: models.SlotPhoto, Path: path,
			State: models.DocumentStateDelivered, DeliveredAt: time.Now(),
		}))
	}
	docs, err := s.store.CountDocuments(ctx, studentID)
	s.Require().NoError(err)
	s.Equal(1, docs)

	summaries, err := s.store.SummariesByNationalIDs(ctx, []domain.NationalID{"30111222", "40111222"})
	s.Require().NoError(err)
	s.Equal(map[domain.NationalID]models.CommittedSummary{"30111222": {EnrollmentCount: 1, DocumentCount: 1}}, summaries)
}

func (s *PostgresStoreSuite) TestQueriesJoinContextTransaction() {
	ctx := context.Background()
	sqlTx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	txCtx := txcontext.WithTx(ctx, sqlTx)
	_, err = s.newStudent(txCtx, "27123456")
	s.Require().NoError(err)
	s.Require().NoError(sqlTx.Rollback())

	_, err = s.store.FindStudentByNationalID(ctx, "27123456")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
