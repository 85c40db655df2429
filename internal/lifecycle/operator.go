package lifecycle

import (
	"time"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// Start is the state of a fresh enrollment positioned at first.
func Start(first model.Step, now time.Time) model.EnrollmentUpdate {
	runAt := now.Add(first.Delay())
	return model.EnrollmentUpdate{
		CurrentStep: first.StepNumber,
		NextRunAt:   &runAt,
	}
}

// Pause holds the enrollment; nothing else changes.
func Pause(e model.Enrollment) model.EnrollmentUpdate {
	u := e.Update()
	u.IsPaused = true
	return u
}

// Resume unpauses and reschedules immediately when nothing is scheduled.
func Resume(e model.Enrollment, now time.Time) model.EnrollmentUpdate {
	u := e.Update()
	u.IsPaused = false
	if u.NextRunAt == nil && u.CompletedAt == nil {
		u.NextRunAt = &now
	}
	return u
}

// ResetError clears the diagnostic, unpauses and makes the enrollment due now.
// A completed enrollment only loses its diagnostic.
func ResetError(e model.Enrollment, now time.Time) model.EnrollmentUpdate {
	u := e.Update()
	u.LastError = nil
	u.LastErrorAt = nil
	if u.CompletedAt != nil {
		return u
	}
	u.IsPaused = false
	u.NextRunAt = &now
	return u
}
