package committed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
	"enrolld/pkg/platform/sentinel"
)

// Catalog is the reference data an in-memory store validates against.
type Catalog struct {
	Modalities map[domain.ModalityID]string
	// Plans maps a plan to its modality.
	Plans map[domain.PlanID]domain.ModalityID
	// Modules maps a module to its plan.
	Modules map[domain.ModuleID]domain.PlanID
	// Provinces maps lower-case names to ids.
	Provinces map[string]int64
}

// DefaultCatalog mirrors the seeded relational catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Modalities: map[domain.ModalityID]string{1: "Presencial", 2: "Semipresencial"},
		Plans:      map[domain.PlanID]domain.ModalityID{1: 1, 2: 1, 3: 1, 4: 2, 5: 2, 6: 2},
		Modules:    map[domain.ModuleID]domain.PlanID{1: 4, 2: 4, 3: 5, 4: 5, 5: 6, 6: 6},
		Provinces:  map[string]int64{"buenos aires": 1, "cordoba": 2, "santa fe": 3},
	}
}

type memoryState struct {
	domiciles   map[int64]models.CommittedDomicile
	students    map[int64]models.Student
	enrollments map[int64]models.Enrollment
	documents   map[int64]models.DocumentDetail
	nextID      int64
}

func (st memoryState) clone() memoryState {
	out := memoryState{
		domiciles:   make(map[int64]models.CommittedDomicile, len(st.domiciles)),
		students:    make(map[int64]models.Student, len(st.students)),
		enrollments: make(map[int64]models.Enrollment, len(st.enrollments)),
		documents:   make(map[int64]models.DocumentDetail, len(st.documents)),
		nextID:      st.nextID,
	}
	for k, v := range st.domiciles {
		out.domiciles[k] = v
	}
	for k, v := range st.students {
		out.students[k] = v
	}
	for k, v := range st.enrollments {
		out.enrollments[k] = v
	}
	for k, v := range st.documents {
		out.documents[k] = v
	}
	return out
}

// InMemoryStore is a committed store for tests and database-less runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	catalog Catalog
	state   memoryState
}

// NewInMemory creates an empty store over catalog.
func NewInMemory(catalog Catalog) *InMemoryStore {
	return &InMemoryStore{
		catalog: catalog,
		state: memoryState{
			domiciles:   map[int64]models.CommittedDomicile{},
			students:    map[int64]models.Student{},
			enrollments: map[int64]models.Enrollment{},
			documents:   map[int64]models.DocumentDetail{},
		},
	}
}

// Snapshot captures the current rows; calling restore puts them back.
func (s *InMemoryStore) Snapshot() (restore func()) {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
	}
}

func (s *InMemoryStore) nextID() int64 {
	s.state.nextID++
	return s.state.nextID
}

func (s *InMemoryStore) ModalityExists(_ context.Context, id domain.ModalityID) (bool, error) {
	_, ok := s.catalog.Modalities[id]
	return ok, nil
}

func (s *InMemoryStore) PlanBelongsToModality(_ context.Context, plan domain.PlanID, modality domain.ModalityID) (bool, error) {
	m, ok := s.catalog.Plans[plan]
	return ok && m == modality, nil
}

func (s *InMemoryStore) ModuleBelongsToPlan(_ context.Context, module domain.ModuleID, plan domain.PlanID) (bool, error) {
	p, ok := s.catalog.Modules[module]
	return ok && p == plan, nil
}

func (s *InMemoryStore) FindStudentByNationalID(_ context.Context, id domain.NationalID) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.state.students {
		if st.NationalID == id {
			found := st
			return &found, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ResolveLocations only knows provinces; city and neighborhood stay nil.
func (s *InMemoryStore) ResolveLocations(_ context.Context, d models.Domicile) (models.Locations, error) {
	var loc models.Locations
	if id, ok := s.catalog.Provinces[strings.ToLower(strings.TrimSpace(d.Province))]; ok {
		loc.ProvinceID = &id
	}
	return loc, nil
}

func (s *InMemoryStore) InsertDomicile(_ context.Context, d *models.CommittedDomicile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *d
	row.ID = s.nextID()
	s.state.domiciles[row.ID] = row
	return row.ID, nil
}

func (s *InMemoryStore) InsertStudent(_ context.Context, st *models.Student) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.students {
		if existing.NationalID == st.NationalID {
			return 0, fmt.Errorf("insert student %s: %w", st.NationalID, sentinel.ErrConflict)
		}
	}
	if _, ok := s.state.domiciles[st.DomicileID]; !ok {
		return 0, fmt.Errorf("insert student: domicile %d does not exist", st.DomicileID)
	}
	row := *st
	row.ID = s.nextID()
	s.state.students[row.ID] = row
	return row.ID, nil
}

func (s *InMemoryStore) FindEnrollment(_ context.Context, studentID int64, modality domain.ModalityID, plan domain.PlanID) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.state.enrollments {
		if e.StudentID == studentID && e.ModalityID == modality && e.PlanID == plan {
			found := e
			return &found, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) InsertEnrollment(_ context.Context, e *models.Enrollment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.enrollments {
		if existing.StudentID == e.StudentID && existing.ModalityID == e.ModalityID && existing.PlanID == e.PlanID {
			return 0, fmt.Errorf("insert enrollment: %w", sentinel.ErrConflict)
		}
	}
	row := *e
	row.ID = s.nextID()
	s.state.enrollments[row.ID] = row
	return row.ID, nil
}

func (s *InMemoryStore) UpsertDocumentDetail(_ context.Context, d *models.DocumentDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.enrollments[d.EnrollmentID]; !ok {
		return fmt.Errorf("upsert document detail: enrollment %d does not exist", d.EnrollmentID)
	}
	for id, existing := range s.state.documents {
		if existing.EnrollmentID == d.EnrollmentID && existing.DocumentType == d.DocumentType {
			existing.Path = d.Path
			existing.State = d.State
			existing.DeliveredAt = d.DeliveredAt
			s.state.documents[id] = existing
			return nil
		}
	}
	row := *d
	row.ID = s.nextID()
	s.state.documents[row.ID] = row
	return nil
}

func (s *InMemoryStore) CountEnrollments(_ context.Context, studentID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.state.enrollments {
		if e.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountDocuments(_ context.Context, studentID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.state.documents {
		if e, ok := s.state.enrollments[d.EnrollmentID]; ok && e.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) SummariesByNationalIDs(ctx context.Context, ids []domain.NationalID) (map[domain.NationalID]models.CommittedSummary, error) {
	out := make(map[domain.NationalID]models.CommittedSummary, len(ids))
	for _, id := range ids {
		st, err := s.FindStudentByNationalID(ctx, id)
		if err != nil {
			continue
		}
		enrollments, _ := s.CountEnrollments(ctx, st.ID)
		documents, _ := s.CountDocuments(ctx, st.ID)
		out[id] = models.CommittedSummary{EnrollmentCount: enrollments, DocumentCount: documents}
	}
	return out, nil
}

// Students returns a copy of every student row.
func (s *InMemoryStore) Students() []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Student, 0, len(s.state.students))
	for _, st := range s.state.students {
		out = append(out, st)
	}
	return out
}

// Enrollments returns a copy of every enrollment row.
func (s *InMemoryStore) Enrollments() []models.Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Enrollment, 0, len(s.state.enrollments))
	for _, e := range s.state.enrollments {
		out = append(out, e)
	}
	return out
}

// Documents returns a copy of every document row.
func (s *InMemoryStore) Documents() []models.DocumentDetail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DocumentDetail, 0, len(s.state.documents))
	for _, d := range s.state.documents {
		out = append(out, d)
	}
	return out
}

// Domiciles returns a copy of every domicile row.
func (s *InMemoryStore) Domiciles() []models.CommittedDomicile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CommittedDomicile, 0, len(s.state.domiciles))
	for _, d := range s.state.domiciles {
		out = append(out, d)
	}
	return out
}
