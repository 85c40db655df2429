package model

import "time"

type MessageStatus string

const (
	StatusSent   MessageStatus = "sent"
	StatusFailed MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	return s == StatusSent || s == StatusFailed
}

const (
	SourceManual   = "manual"
	SourceSequence = "sequence"
)

// MessageLogEntry is one append-only record of a send attempt.
type MessageLogEntry struct {
	ID           string        `db:"id"             json:"id"`
	OwnerID      string        `db:"owner_id"       json:"owner_id"`
	ContactID    string        `db:"contact_id"     json:"contact_id"`
	EnrollmentID string        `db:"enrollment_id"  json:"enrollment_id,omitempty"`
	ToNumber     string        `db:"to_number"      json:"to_number"`
	FromNumber   string        `db:"from_number"    json:"from_number"`
	Body         string        `db:"body"           json:"body"`
	Status       MessageStatus `db:"status"         json:"status"`
	ProviderRef  string        `db:"provider_ref"   json:"provider_ref,omitempty"`
	Error        string        `db:"error_message"  json:"error,omitempty"`
	Source       string        `db:"source"         json:"source"`
	CreatedAt    time.Time     `db:"created_at"     json:"created_at"`
}
