package model

import "time"

type EnrollmentState string

const (
	StateActive    EnrollmentState = "active"
	StatePaused    EnrollmentState = "paused"
	StateCompleted EnrollmentState = "completed"
)

func (s EnrollmentState) String() string { return string(s) }

func (s EnrollmentState) Valid() bool {
	switch s {
	case StateActive, StatePaused, StateCompleted:
		return true
	}
	return false
}

// Enrollment binds one contact to one sequence and tracks its progress.
type Enrollment struct {
	ID          string
	SequenceID  string
	ContactID   string
	OwnerID     string
	CurrentStep int
	NextRunAt   *time.Time // nil and not completed => not scheduled
	IsPaused    bool
	CompletedAt *time.Time
	LastError   *string
	LastErrorAt *time.Time
	Version     int64 // bumped by every state write, used for optimistic operator updates
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// State reports the lifecycle state. Completion wins over pause.
func (e Enrollment) State() EnrollmentState {
	switch {
	case e.CompletedAt != nil:
		return StateCompleted
	case e.IsPaused:
		return StatePaused
	default:
		return StateActive
	}
}

// Due reports whether the scheduler may pick the enrollment at now.
func (e Enrollment) Due(now time.Time) bool {
	return e.State() == StateActive && e.NextRunAt != nil && !e.NextRunAt.After(now)
}

// Update returns the persisted state of e as an EnrollmentUpdate, the
// starting point for every transition.
func (e Enrollment) Update() EnrollmentUpdate {
	return EnrollmentUpdate{
		CurrentStep: e.CurrentStep,
		NextRunAt:   e.NextRunAt,
		IsPaused:    e.IsPaused,
		CompletedAt: e.CompletedAt,
		LastError:   e.LastError,
		LastErrorAt: e.LastErrorAt,
	}
}

// EnrollmentUpdate is the full mutable state written back in one statement.
type EnrollmentUpdate struct {
	CurrentStep int
	NextRunAt   *time.Time
	IsPaused    bool
	CompletedAt *time.Time
	LastError   *string
	LastErrorAt *time.Time
}

// ApplyTo returns a copy of e carrying the updated fields.
func (u EnrollmentUpdate) ApplyTo(e Enrollment) Enrollment {
	e.CurrentStep = u.CurrentStep
	e.NextRunAt = u.NextRunAt
	e.IsPaused = u.IsPaused
	e.CompletedAt = u.CompletedAt
	e.LastError = u.LastError
	e.LastErrorAt = u.LastErrorAt
	return e
}
