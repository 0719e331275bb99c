// Package models holds the enrollment domain types shared by the pending and
// committed representations.
package models

import (
	"time"

	"enrolld/pkg/domain"
)

// State is the lifecycle state of a pending application.
type State string

const (
	StatePending   State = "PENDING"
	StateProcessed State = "PROCESSED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s State) IsTerminal() bool {
	return s == StateProcessed
}

// SemiAttendance is the modality that requires a module selection.
const SemiAttendance domain.ModalityID = 2

// Domicile is the applicant's postal address as captured at intake.
type Domicile struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Floor        string `json:"floor,omitempty"`
	Apartment    string `json:"apartment,omitempty"`
	Province     string `json:"province"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// Profile is the applicant data copied into the Student on commit.
type Profile struct {
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone,omitempty"`
	BirthDate   string   `json:"birth_date"`
	BirthPlace  string   `json:"birth_place,omitempty"`
	Nationality string   `json:"nationality,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	Domicile    Domicile `json:"domicile"`
}

// Selectors choose the requirement rules and the enrollment target.
type Selectors struct {
	ModalityID domain.ModalityID `json:"modality_id"`
	PlanID     domain.PlanID     `json:"plan_id"`
	ModuleID   domain.ModuleID   `json:"module_id,omitempty"`
}

// Extension is one alarm reset in the application's history.
type Extension struct {
	Date   time.Time `json:"date"`
	Days   int       `json:"days"`
	Reason string    `json:"reason"`
}

// CommittedSummary describes what the committed store already holds for an identifier.
type CommittedSummary struct {
	EnrollmentCount int `json:"enrollment_count"`
	DocumentCount   int `json:"document_count"`
}

// PendingApplication is one applicant's interim record. There is at most one
// per national ID.
type PendingApplication struct {
	NationalID            domain.NationalID `json:"national_id"`
	SubmittedAt           time.Time         `json:"submitted_at"`
	State                 State             `json:"state"`
	Profile               Profile           `json:"profile"`
	Selectors             Selectors         `json:"selectors"`
	Files                 FileMap           `json:"files"`
	Reason                string            `json:"reason,omitempty"`
	Deadline              *time.Time        `json:"deadline,omitempty"`
	Extensions            []Extension       `json:"extensions,omitempty"`
	CommittedEnrollmentID int64             `json:"committed_enrollment_id,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at"`
	Version               int64             `json:"version"`

	// Computed on read by reconciliation; never persisted.
	AlreadyCommitted bool              `json:"-"`
	CommittedSummary *CommittedSummary `json:"-"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (a *PendingApplication) Clone() *PendingApplication {
	if a == nil {
		return nil
	}
	out := *a
	out.Files = a.Files.Clone()
	if a.Deadline != nil {
		d := *a.Deadline
		out.Deadline = &d
	}
	if a.Extensions != nil {
		out.Extensions = append([]Extension(nil), a.Extensions...)
	}
	if a.CommittedSummary != nil {
		s := *a.CommittedSummary
		out.CommittedSummary = &s
	}
	return &out
}
