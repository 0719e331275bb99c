// Package events publishes committed-enrollment notifications for the
// downstream collaborators (confirmation email, enrollment PDF).
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"enrolld/internal/enrollment/models"
)

// TypeEnrollmentCommitted names the only event this service emits.
const TypeEnrollmentCommitted = "enrollment.committed"

// EnrollmentCommitted is the JSON snapshot sent after a successful commit.
type EnrollmentCommitted struct {
	EventID           string            `json:"event_id"`
	Type              string            `json:"type"`
	NationalID        string            `json:"national_id"`
	StudentID         int64             `json:"student_id"`
	EnrollmentID      int64             `json:"enrollment_id"`
	StudentCreated    bool              `json:"student_created"`
	EnrollmentCreated bool              `json:"enrollment_created"`
	Selectors         models.Selectors  `json:"selectors"`
	Profile           models.Profile    `json:"profile"`
	Documents         map[string]string `json:"documents"`
	CommittedAt       time.Time         `json:"committed_at"`
}

// NewEnrollmentCommitted builds the event for app and the commit result.
func NewEnrollmentCommitted(app *models.PendingApplication, files models.FileMap, result *models.CommittedEnrollment, at time.Time) EnrollmentCommitted {
	docs := make(map[string]string, len(files))
	for slot, stored := range files {
		if stored != "" {
			docs[string(slot)] = stored
		}
	}
	return EnrollmentCommitted{
		EventID:           uuid.NewString(),
		Type:              TypeEnrollmentCommitted,
		NationalID:        app.NationalID.String(),
		StudentID:         result.StudentID,
		EnrollmentID:      result.EnrollmentID,
		StudentCreated:    result.StudentCreated,
		EnrollmentCreated: result.EnrollmentCreated,
		Selectors:         app.Selectors,
		Profile:           app.Profile,
		Documents:         docs,
		CommittedAt:       at.UTC(),
	}
}

// InMemoryPublisher keeps events in memory. Used when no broker is configured
// and in tests.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []EnrollmentCommitted
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) PublishEnrollmentCommitted(_ context.Context, event EnrollmentCommitted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the published events.
func (p *InMemoryPublisher) Events() []EnrollmentCommitted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]EnrollmentCommitted(nil), p.events...)
}

// Close is a no-op.
func (p *InMemoryPublisher) Close() {}
