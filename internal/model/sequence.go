package model

import "time"

// Sequence is an ordered, named set of message steps owned by one user.
type Sequence struct {
	ID        string
	OwnerID   string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step is one message template plus its delay from the previous step.
type Step struct {
	ID           string
	SequenceID   string
	StepNumber   int
	DelayMinutes int
	BodyTemplate string // may be empty when the author has not written it yet
}

// Delay returns the wait before this step runs. Negative delays count as zero.
func (s Step) Delay() time.Duration {
	if s.DelayMinutes <= 0 {
		return 0
	}
	return time.Duration(s.DelayMinutes) * time.Minute
}
