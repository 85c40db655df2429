package model

import "time"

// TickEvent asks a worker to run one scheduler pass.
type TickEvent struct {
	ID          string    `json:"id"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source,omitempty"`
}
