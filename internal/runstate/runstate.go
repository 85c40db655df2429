// Package runstate keeps the outcome of the most recent scheduler pass in
// Redis so any API replica can report it.
package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

const defaultKey = "smsseq:run:last"

type Snapshot struct {
	Summary    model.RunSummary `json:"summary"`
	Error      string           `json:"error,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// OK reports whether the pass could select its batch.
func (s Snapshot) OK() bool { return s.Error == "" }

type Store struct {
	rds *redis.Client
	key string
	ttl time.Duration
	now func() time.Time
}

// NewStore returns a store that forgets the last run after ttl (0 = never).
func NewStore(rds *redis.Client, ttl time.Duration) *Store {
	return &Store{rds: rds, key: defaultKey, ttl: ttl, now: time.Now}
}

func (s *Store) Record(ctx context.Context, summary model.RunSummary, runErr error) error {
	snap := Snapshot{Summary: summary, RecordedAt: s.now().UTC()}
	if runErr != nil {
		snap.Error = runErr.Error()
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return s.rds.Set(ctx, s.key, b, s.ttl).Err()
}

// Last returns the latest snapshot, or nil when no pass has been recorded.
func (s *Store) Last(ctx context.Context) (*Snapshot, error) {
	b, err := s.rds.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}

	return &snap, nil
}
