// Package expiration computes and resets the time-to-complete window of
// pending applications.
package expiration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"enrolld/internal/enrollment/models"
	dErrors "enrolld/pkg/domain-errors"
)

const day = 24 * time.Hour

// DefaultGrace is the window granted when an application has no stored deadline.
const DefaultGrace = 7 * day

// Tracker derives deadlines from a fixed grace period.
type Tracker struct {
	grace time.Duration
}

// New creates a tracker. A non-positive grace falls back to DefaultGrace.
func New(grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Tracker{grace: grace}
}

// Grace returns the configured window.
func (t *Tracker) Grace() time.Duration {
	return t.grace
}

// Deadline is the stored deadline, or submission time plus the grace period.
func (t *Tracker) Deadline(app *models.PendingApplication) time.Time {
	if app.Deadline != nil && !app.Deadline.IsZero() {
		return *app.Deadline
	}
	return app.SubmittedAt.Add(t.grace)
}

// DeadlineState reports the remaining window at now. Days remaining is the
// ceiling of the remaining fraction and goes negative once overdue.
func (t *Tracker) DeadlineState(app *models.PendingApplication, now time.Time) models.DeadlineState {
	deadline := t.Deadline(app)
	remaining := deadline.Sub(now)
	days := int(math.Ceil(remaining.Hours() / 24))
	if days == 0 && remaining < 0 {
		// ceil(-0.5) is -0; an expired window is at least one day late.
		days = -1
	}
	state := models.DeadlineState{
		Deadline:      deadline,
		DaysRemaining: days,
		Overdue:       now.After(deadline),
	}
	switch {
	case state.Overdue:
		state.Message = fmt.Sprintf("documentation overdue by %d day(s)", -days)
	case days == 0:
		state.Message = "documentation due today"
	default:
		state.Message = fmt.Sprintf("%d day(s) left to complete documentation", days)
	}
	return state
}

// ResetAlarm grants days more from now and records the extension. The
// application is modified in place.
func (t *Tracker) ResetAlarm(app *models.PendingApplication, days int, reason string, now time.Time) error {
	if app.State.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "application is already processed")
	}
	if days <= 0 {
		return dErrors.New(dErrors.CodeValidation, "days must be positive")
	}
	deadline := now.Add(time.Duration(days) * day)
	app.Extensions = append(app.Extensions, models.Extension{
		Date:   now,
		Days:   days,
		Reason: strings.TrimSpace(reason),
	})
	app.Deadline = &deadline
	return nil
}

// Extend pushes the stored deadline one grace period past the later of the
// current stored deadline and now, so each call strictly moves it forward.
// The extension entry records the days from now to the new deadline.
func (t *Tracker) Extend(app *models.PendingApplication, reason string, now time.Time) error {
	if app.State.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "application is already processed")
	}
	base := now
	if app.Deadline != nil && app.Deadline.After(base) {
		base = *app.Deadline
	}
	deadline := base.Add(t.grace)
	app.Extensions = append(app.Extensions, models.Extension{
		Date:   now,
		Days:   int(math.Ceil(deadline.Sub(now).Hours() / 24)),
		Reason: strings.TrimSpace(reason),
	})
	app.Deadline = &deadline
	return nil
}
