package handler

import (
	"time"

	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/service"
)

// RequirementsResponse lists the documents the current selection needs.
type RequirementsResponse struct {
	Basic       []models.Slot           `json:"basic"`
	Alternative *models.AlternativePair `json:"alternative,omitempty"`
}

// CommittedResponse reports what already exists in the committed store.
type CommittedResponse struct {
	AlreadyCommitted bool `json:"already_committed"`
	EnrollmentCount  int  `json:"enrollment_count"`
	DocumentCount    int  `json:"document_count"`
}

// ApplicationResponse is a pending record with its computed status.
type ApplicationResponse struct {
	NationalID            string               `json:"national_id"`
	State                 models.State         `json:"state"`
	SubmittedAt           time.Time            `json:"submitted_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
	Version               int64                `json:"version"`
	Profile               models.Profile       `json:"profile"`
	Selectors             models.Selectors     `json:"selectors"`
	Files                 models.FileMap       `json:"files"`
	Reason                string               `json:"reason,omitempty"`
	Extensions            []models.Extension   `json:"extensions,omitempty"`
	CommittedEnrollmentID int64                `json:"committed_enrollment_id,omitempty"`
	Requirements          RequirementsResponse `json:"requirements"`
	Complete              bool                 `json:"complete"`
	MissingDocuments      []string             `json:"missing_documents"`
	Deadline              models.DeadlineState `json:"deadline"`
	Committed             CommittedResponse    `json:"committed"`
}

// FromView builds the response for one application view.
func FromView(v *service.ApplicationView) ApplicationResponse {
	app := v.Application
	resp := ApplicationResponse{
		NationalID:            app.NationalID.String(),
		State:                 app.State,
		SubmittedAt:           app.SubmittedAt,
		UpdatedAt:             app.UpdatedAt,
		Version:               app.Version,
		Profile:               app.Profile,
		Selectors:             app.Selectors,
		Files:                 app.Files,
		Reason:                app.Reason,
		Extensions:            app.Extensions,
		CommittedEnrollmentID: app.CommittedEnrollmentID,
		Requirements: RequirementsResponse{
			Basic:       v.Requirements.Basic,
			Alternative: v.Requirements.Pair,
		},
		Complete:         v.Validation.Complete,
		MissingDocuments: v.Validation.Missing,
		Deadline:         v.Deadline,
		Committed:        CommittedResponse{AlreadyCommitted: app.AlreadyCommitted},
	}
	if resp.Files == nil {
		resp.Files = models.FileMap{}
	}
	if resp.MissingDocuments == nil {
		resp.MissingDocuments = []string{}
	}
	if app.CommittedSummary != nil {
		resp.Committed.EnrollmentCount = app.CommittedSummary.EnrollmentCount
		resp.Committed.DocumentCount = app.CommittedSummary.DocumentCount
	}
	return resp
}

// ListResponse is the admin listing.
type ListResponse struct {
	Applications []ApplicationResponse `json:"applications"`
	Count        int                   `json:"count"`
}

// FromViews builds the admin listing response.
func FromViews(views []*service.ApplicationView) ListResponse {
	out := make([]ApplicationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, FromView(v))
	}
	return ListResponse{Applications: out, Count: len(out)}
}

// ProcessResponse is the outcome of a processing attempt.
type ProcessResponse struct {
	State                 models.State          `json:"state"`
	CommittedEnrollmentID int64                 `json:"committed_enrollment_id,omitempty"`
	StudentID             int64                 `json:"student_id,omitempty"`
	UsedAlternative       models.Slot           `json:"used_alternative,omitempty"`
	MissingDocuments      []string              `json:"missing_documents,omitempty"`
	Deadline              *models.DeadlineState `json:"deadline,omitempty"`
}

// FromResult builds the process response.
func FromResult(r *service.ProcessResult) ProcessResponse {
	resp := ProcessResponse{
		State:                 r.State,
		CommittedEnrollmentID: r.CommittedEnrollmentID,
		UsedAlternative:       r.UsedAlternative,
		MissingDocuments:      r.MissingDocuments,
		Deadline:              r.Deadline,
	}
	if r.Committed != nil {
		resp.StudentID = r.Committed.StudentID
	}
	return resp
}
