// Package lifecycle computes enrollment state transitions. Every function is
// pure: it takes a snapshot and returns the full state to persist.
package lifecycle

import (
	"time"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

type Outcome string

const (
	Deferred  Outcome = "deferred"
	Advanced  Outcome = "advanced"
	Completed Outcome = "completed"
	Paused    Outcome = "paused"
	DataDrift Outcome = "data_drift"

	// PersistFailed means the computed state could not be written. The row
	// keeps its claim and is retried, possibly resending, once the lease expires.
	PersistFailed Outcome = "persist_failed"
)

func (o Outcome) String() string { return string(o) }

// Succeeded reports whether the outcome counts as a successful send.
func (o Outcome) Succeeded() bool { return o == Advanced || o == Completed }

// Failed reports whether the outcome counts against the run.
func (o Outcome) Failed() bool { return o == Paused || o == DataDrift || o == PersistFailed }

// Diagnostics recorded in last_error.
const (
	ErrMissingStep        = "Missing step for current_step"
	ErrMissingContact     = "Missing property"
	ErrMissingTemplate    = "Missing body_template"
	ErrMissingDestination = "Missing destination phone number"
	ErrSendFailed         = "Sequence SMS failed"
)

type Transition struct {
	Outcome Outcome
	Update  model.EnrollmentUpdate
}

// Defer keeps the enrollment active and moves next_run_at to until.
func Defer(e model.Enrollment, until time.Time) Transition {
	u := e.Update()
	u.NextRunAt = &until
	return Transition{Outcome: Deferred, Update: u}
}

// MissingStep force-completes an enrollment whose sequence lost its current step.
func MissingStep(e model.Enrollment, now time.Time) Transition {
	u := e.Update()
	u.CompletedAt = &now
	u.NextRunAt = nil
	u.LastError = strPtr(ErrMissingStep)
	u.LastErrorAt = &now
	return Transition{Outcome: DataDrift, Update: u}
}

// RecipientError pauses the enrollment. next_run_at is left untouched so a
// resume continues from the original schedule.
func RecipientError(e model.Enrollment, now time.Time, reason string) Transition {
	return pause(e, now, reason)
}

// SendFailed pauses the enrollment keeping the provider error verbatim.
func SendFailed(e model.Enrollment, now time.Time, errText string) Transition {
	if errText == "" {
		errText = ErrSendFailed
	}
	return pause(e, now, errText)
}

// Crashed pauses the enrollment after an unexpected processing error.
func Crashed(e model.Enrollment, now time.Time, err error) Transition {
	reason := ErrSendFailed
	if err != nil && err.Error() != "" {
		reason = err.Error()
	}
	return pause(e, now, reason)
}

// Sent advances to next, or completes the enrollment when next is nil.
func Sent(e model.Enrollment, now time.Time, next *model.Step) Transition {
	u := e.Update()
	u.LastError = nil
	u.LastErrorAt = nil

	if next == nil {
		u.CompletedAt = &now
		u.NextRunAt = nil
		return Transition{Outcome: Completed, Update: u}
	}

	runAt := now.Add(next.Delay())
	u.CurrentStep = next.StepNumber
	u.NextRunAt = &runAt
	return Transition{Outcome: Advanced, Update: u}
}

func pause(e model.Enrollment, now time.Time, reason string) Transition {
	u := e.Update()
	u.IsPaused = true
	u.LastError = strPtr(reason)
	u.LastErrorAt = &now
	return Transition{Outcome: Paused, Update: u}
}

func strPtr(s string) *string { return &s }
