// Package committed persists enrolled students, enrollments and their
// documents in the relational store.
package committed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"enrolld/internal/enrollment/models"
	"enrolld/internal/platform/postgres"
	"enrolld/pkg/domain"
	"enrolld/pkg/platform/sentinel"
	txcontext "enrolld/pkg/platform/tx"
)

// PostgresStore reads and writes the committed representation. Queries join
// the caller's transaction when one is carried in the context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed committed store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) exec(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

func (s *PostgresStore) ModalityExists(ctx context.Context, id domain.ModalityID) (bool, error) {
	var exists bool
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM modalities WHERE id = $1)`, int64(id),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check modality: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) PlanBelongsToModality(ctx context.Context, plan domain.PlanID, modality domain.ModalityID) (bool, error) {
	var exists bool
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM plans WHERE id = $1 AND modality_id = $2)`, int64(plan), int64(modality),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check plan: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ModuleBelongsToPlan(ctx context.Context, module domain.ModuleID, plan domain.PlanID) (bool, error) {
	var exists bool
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM modules WHERE id = $1 AND plan_id = $2)`, int64(module), int64(plan),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check module: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindStudentByNationalID(ctx context.Context, id domain.NationalID) (*models.Student, error) {
	var st models.Student
	var nationalID string
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT id, national_id, first_name, last_name, email, phone, birth_date, birth_place,
		       nationality, gender, domicile_id, created_at
		FROM students WHERE national_id = $1`, id.String(),
	).Scan(&st.ID, &nationalID, &st.FirstName, &st.LastName, &st.Email, &st.Phone, &st.BirthDate,
		&st.BirthPlace, &st.Nationality, &st.Gender, &st.DomicileID, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	st.NationalID = domain.NationalID(nationalID)
	return &st, nil
}

// ResolveLocations maps domicile names to catalog ids, case-insensitively.
// Names that do not resolve stay nil.
func (s *PostgresStore) ResolveLocations(ctx context.Context, d models.Domicile) (models.Locations, error) {
	var loc models.Locations
	exec := s.exec(ctx)

	lookup := func(query string, args ...any) (*int64, error) {
		var id int64
		err := exec.QueryRowContext(ctx, query, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &id, nil
	}

	var err error
	if name := strings.TrimSpace(d.Province); name != "" {
		if loc.ProvinceID, err = lookup(`SELECT id FROM provinces WHERE lower(name) = lower($1)`, name); err != nil {
			return loc, fmt.Errorf("resolve province: %w", err)
		}
	}
	if name := strings.TrimSpace(d.City); name != "" && loc.ProvinceID != nil {
		if loc.CityID, err = lookup(`SELECT id FROM cities WHERE province_id = $1 AND lower(name) = lower($2)`, *loc.ProvinceID, name); err != nil {
			return loc, fmt.Errorf("resolve city: %w", err)
		}
	}
	if name := strings.TrimSpace(d.Neighborhood); name != "" && loc.CityID != nil {
		if loc.NeighborhoodID, err = lookup(`SELECT id FROM neighborhoods WHERE city_id = $1 AND lower(name) = lower($2)`, *loc.CityID, name); err != nil {
			return loc, fmt.Errorf("resolve neighborhood: %w", err)
		}
	}
	return loc, nil
}

func (s *PostgresStore) InsertDomicile(ctx context.Context, d *models.CommittedDomicile) (int64, error) {
	var id int64
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO domiciles (street, number, floor, apartment, postal_code, province_id, city_id, neighborhood_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		d.Street, d.Number, d.Floor, d.Apartment, d.PostalCode, d.ProvinceID, d.CityID, d.NeighborhoodID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert domicile: %w", err)
	}
	return id, nil
}

// InsertStudent returns sentinel.ErrConflict when the national ID is taken.
func (s *PostgresStore) InsertStudent(ctx context.Context, st *models.Student) (int64, error) {
	var id int64
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO students (national_id, first_name, last_name, email, phone, birth_date, birth_place,
		                      nationality, gender, domicile_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		st.NationalID.String(), st.FirstName, st.LastName, st.Email, st.Phone, st.BirthDate, st.BirthPlace,
		st.Nationality, st.Gender, st.DomicileID, st.CreatedAt,
	).Scan(&id)
	if err != nil {
		if postgres.IsUniqueViolation(err, "students_national_id_key") {
			return 0, fmt.Errorf("insert student %s: %w", st.NationalID, sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("insert student: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) FindEnrollment(ctx context.Context, studentID int64, modality domain.ModalityID, plan domain.PlanID) (*models.Enrollment, error) {
	var e models.Enrollment
	var modalityID, planID int64
	var moduleID sql.NullInt64
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT id, student_id, modality_id, plan_id, module_id, enrolled_at
		FROM enrollments WHERE student_id = $1 AND modality_id = $2 AND plan_id = $3`,
		studentID, int64(modality), int64(plan),
	).Scan(&e.ID, &e.StudentID, &modalityID, &planID, &moduleID, &e.EnrolledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	e.ModalityID = domain.ModalityID(modalityID)
	e.PlanID = domain.PlanID(planID)
	e.ModuleID = domain.ModuleID(moduleID.Int64)
	return &e, nil
}

// InsertEnrollment returns sentinel.ErrConflict when the student already holds
// an enrollment for the modality and plan.
func (s *PostgresStore) InsertEnrollment(ctx context.Context, e *models.Enrollment) (int64, error) {
	var moduleID sql.NullInt64
	if e.ModuleID != 0 {
		moduleID = sql.NullInt64{Int64: int64(e.ModuleID), Valid: true}
	}
	var id int64
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, modality_id, plan_id, module_id, enrolled_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		e.StudentID, int64(e.ModalityID), int64(e.PlanID), moduleID, e.EnrolledAt,
	).Scan(&id)
	if err != nil {
		if postgres.IsUniqueViolation(err, "enrollments_student_modality_plan_key") {
			return 0, fmt.Errorf("insert enrollment: %w", sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	return id, nil
}

// UpsertDocumentDetail inserts the document or refreshes path, state and
// delivery date of the existing {enrollment, document type} row.
func (s *PostgresStore) UpsertDocumentDetail(ctx context.Context, d *models.DocumentDetail) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO document_details (enrollment_id, document_type, path, state, delivered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (enrollment_id, document_type) DO UPDATE
		SET path = EXCLUDED.path, state = EXCLUDED.state, delivered_at = EXCLUDED.delivered_at`,
		d.EnrollmentID, string(d.DocumentType), d.Path, d.State, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document detail: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountEnrollments(ctx context.Context, studentID int64) (int, error) {
	var n int
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE student_id = $1`, studentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountDocuments(ctx context.Context, studentID int64) (int, error) {
	var n int
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM document_details d
		JOIN enrollments e ON e.id = d.enrollment_id
		WHERE e.student_id = $1`, studentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// SummariesByNationalIDs returns one summary per committed identifier in ids,
// in a single round trip. Identifiers with no student are absent from the map.
func (s *PostgresStore) SummariesByNationalIDs(ctx context.Context, ids []domain.NationalID) (map[domain.NationalID]models.CommittedSummary, error) {
	out := make(map[domain.NationalID]models.CommittedSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT s.national_id,
		       (SELECT COUNT(*) FROM enrollments e WHERE e.student_id = s.id),
		       (SELECT COUNT(*) FROM document_details d
		          JOIN enrollments e ON e.id = d.enrollment_id
		         WHERE e.student_id = s.id)
		FROM students s
		WHERE s.national_id = ANY($1)`, pq.Array(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("summarize students: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var nationalID string
		var summary models.CommittedSummary
		if err := rows.Scan(&nationalID, &summary.EnrollmentCount, &summary.DocumentCount); err != nil {
			return nil, fmt.Errorf("scan student summary: %w", err)
		}
		out[domain.NationalID(nationalID)] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student summaries: %w", err)
	}
	return out, nil
}
