package models

import (
	"time"

	"enrolld/pkg/domain"
)

// DocumentStateDelivered marks a committed document as received.
const DocumentStateDelivered = "DELIVERED"

// Student is the permanent applicant record; national ID is unique.
type Student struct {
	ID          int64
	NationalID  domain.NationalID
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	BirthDate   string
	BirthPlace  string
	Nationality string
	Gender      string
	DomicileID  int64
	CreatedAt   time.Time
}

// CommittedDomicile is the relational domicile row. Location ids are nil when
// the name did not resolve against the catalog.
type CommittedDomicile struct {
	ID             int64
	Street         string
	Number         string
	Floor          string
	Apartment      string
	PostalCode     string
	ProvinceID     *int64
	CityID         *int64
	NeighborhoodID *int64
}

// Enrollment is unique per {student, modality, plan}.
type Enrollment struct {
	ID         int64
	StudentID  int64
	ModalityID domain.ModalityID
	PlanID     domain.PlanID
	ModuleID   domain.ModuleID
	EnrolledAt time.Time
}

// DocumentDetail is unique per {enrollment, document type}.
type DocumentDetail struct {
	ID           int64
	EnrollmentID int64
	DocumentType Slot
	Path         string
	State        string
	DeliveredAt  time.Time
}

// Locations are resolved catalog ids for a domicile.
type Locations struct {
	ProvinceID     *int64
	CityID         *int64
	NeighborhoodID *int64
}

// CommittedEnrollment is the result of one successful commit.
type CommittedEnrollment struct {
	StudentID         int64 `json:"student_id"`
	EnrollmentID      int64 `json:"enrollment_id"`
	StudentCreated    bool  `json:"student_created"`
	EnrollmentCreated bool  `json:"enrollment_created"`
	Documents         int   `json:"documents"`
}

// DeadlineState describes how much time an application has left.
type DeadlineState struct {
	Deadline      time.Time `json:"deadline"`
	DaysRemaining int       `json:"days_remaining"`
	Overdue       bool      `json:"overdue"`
	Message       string    `json:"message"`
}
