package expiration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrolld/internal/enrollment/models"
	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/testutil"
)

var submitted = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestDeadlineState(t *testing.T) {
	tracker := New(0)
	app := &models.PendingApplication{SubmittedAt: submitted, State: models.StatePending}

	t.Run("defaults to submission plus grace", func(t *testing.T) {
		state := tracker.DeadlineState(app, submitted)
		assert.Equal(t, submitted.Add(7*24*time.Hour), state.Deadline)
		assert.Equal(t, 7, state.DaysRemaining)
		assert.False(t, state.Overdue)
	})

	t.Run("partial days round up", func(t *testing.T) {
		state := tracker.DeadlineState(app, submitted.Add(6*24*time.Hour+time.Hour))
		assert.Equal(t, 1, state.DaysRemaining)
		assert.False(t, state.Overdue)
	})

	t.Run("overdue goes negative", func(t *testing.T) {
		state := tracker.DeadlineState(app, submitted.Add(7*24*time.Hour+2*time.Hour))
		assert.True(t, state.Overdue)
		assert.Equal(t, -1, state.DaysRemaining)
		assert.Contains(t, state.Message, "overdue by 1")

		state = tracker.DeadlineState(app, submitted.Add(10*24*time.Hour))
		assert.Equal(t, -3, state.DaysRemaining)
	})

	t.Run("stored deadline wins", func(t *testing.T) {
		stored := submitted.Add(30 * 24 * time.Hour)
		withDeadline := &models.PendingApplication{SubmittedAt: submitted, Deadline: &stored}
		assert.Equal(t, stored, tracker.DeadlineState(withDeadline, submitted).Deadline)
	})
}

func TestResetAlarm(t *testing.T) {
	tracker := New(7 * 24 * time.Hour)
	now := submitted.Add(2 * 24 * time.Hour)

	t.Run("sets deadline and records extension", func(t *testing.T) {
		app := &models.PendingApplication{SubmittedAt: submitted, State: models.StatePending}
		require.NoError(t, tracker.ResetAlarm(app, 10, " documents delayed ", now))
		require.NotNil(t, app.Deadline)
		assert.Equal(t, now.Add(10*24*time.Hour), *app.Deadline)
		require.Len(t, app.Extensions, 1)
		assert.Equal(t, models.Extension{Date: now, Days: 10, Reason: "documents delayed"}, app.Extensions[0])

		require.NoError(t, tracker.ResetAlarm(app, 3, "again", now))
		assert.Len(t, app.Extensions, 2)
	})

	t.Run("rejects processed applications", func(t *testing.T) {
		app := &models.PendingApplication{State: models.StateProcessed}
		err := tracker.ResetAlarm(app, 5, "late", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
		assert.Nil(t, app.Deadline)
		assert.Empty(t, app.Extensions)
	})

	t.Run("rejects non-positive days", func(t *testing.T) {
		app := &models.PendingApplication{State: models.StatePending}
		for _, days := range []int{0, -2} {
			err := tracker.ResetAlarm(app, days, "", now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		}
		assert.Empty(t, app.Extensions)
	})
}

func TestExtend(t *testing.T) {
	tracker := New(7 * 24 * time.Hour)
	now := submitted.Add(2 * 24 * time.Hour)

	t.Run("first extension starts from now", func(t *testing.T) {
		app := &models.PendingApplication{SubmittedAt: submitted, State: models.StatePending}
		require.NoError(t, tracker.Extend(app, "missing photo", now))
		assert.Equal(t, now.Add(7*24*time.Hour), *app.Deadline)
		assert.Equal(t, models.Extension{Date: now, Days: 7, Reason: "missing photo"}, app.Extensions[0])
	})

	t.Run("a later stored deadline is pushed further out", func(t *testing.T) {
		app := &models.PendingApplication{SubmittedAt: submitted, State: models.StatePending}
		require.NoError(t, tracker.ResetAlarm(app, 30, "school strike", now))
		previous := *app.Deadline

		require.NoError(t, tracker.Extend(app, "missing photo", now))
		assert.True(t, app.Deadline.After(previous))
		assert.Equal(t, now.Add(37*24*time.Hour), *app.Deadline)
		last := app.Extensions[len(app.Extensions)-1]
		assert.Equal(t, 37, last.Days)
		assert.Equal(t, *app.Deadline, last.Date.Add(time.Duration(last.Days)*24*time.Hour))
	})

	t.Run("repeated calls keep moving forward", func(t *testing.T) {
		app := &models.PendingApplication{SubmittedAt: submitted, State: models.StatePending}
		require.NoError(t, tracker.Extend(app, "", now))
		first := *app.Deadline
		require.NoError(t, tracker.Extend(app, "", now))
		assert.True(t, app.Deadline.After(first))
	})

	t.Run("rejects processed applications", func(t *testing.T) {
		app := &models.PendingApplication{State: models.StateProcessed}
		err := tracker.Extend(app, "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
		assert.Nil(t, app.Deadline)
	})
}

func TestOperatorExtendsOverdueApplication(t *testing.T) {
	tracker := New(0)
	app := &models.PendingApplication{SubmittedAt: submitted, State: models.StatePending}
	now := submitted.Add(9 * 24 * time.Hour)

	testutil.Given(t, "an application two days past its deadline", func(t *testing.T) {
		require.True(t, tracker.DeadlineState(app, now).Overdue)

		testutil.When(t, "the operator grants five more days", func(t *testing.T) {
			require.NoError(t, tracker.ResetAlarm(app, 5, "school strike", now))

			testutil.Then(t, "the alarm counts down from the reset", func(t *testing.T) {
				state := tracker.DeadlineState(app, now)
				assert.False(t, state.Overdue)
				assert.Equal(t, 5, state.DaysRemaining)
				assert.Equal(t, now.Add(5*24*time.Hour), state.Deadline)
			})
		})
	})
}
