package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// MessageLogRepository is append-only: entries are never updated.
type MessageLogRepository interface {
	Append(ctx context.Context, e *model.MessageLogEntry) error
	CountSince(ctx context.Context, since time.Time) (map[model.MessageStatus]int, error)
	ListByContact(ctx context.Context, contactID string, limit int) ([]model.MessageLogEntry, error)
}

type MessageLogRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessageLogRepository(db *sqlx.DB) *MessageLogRepositoryImpl {
	return &MessageLogRepositoryImpl{db: db}
}

var _ MessageLogRepository = (*MessageLogRepositoryImpl)(nil)

func (r *MessageLogRepositoryImpl) Append(ctx context.Context, e *model.MessageLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_log
		    (id, owner_id, contact_id, enrollment_id, to_number, from_number, body,
		     status, provider_ref, error_message, source, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.OwnerID, e.ContactID, emptyAsNull(e.EnrollmentID), e.ToNumber, e.FromNumber, e.Body,
		e.Status.String(), emptyAsNull(e.ProviderRef), emptyAsNull(e.Error), e.Source,
		toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append message log: %w", err)
	}

	return nil
}

func (r *MessageLogRepositoryImpl) CountSince(ctx context.Context, since time.Time) (map[model.MessageStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n
		  FROM message_log
		 WHERE created_at >= ?
		 GROUP BY status
	`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	out := map[model.MessageStatus]int{model.StatusSent: 0, model.StatusFailed: 0}
	for _, row := range rows {
		out[model.MessageStatus(row.Status)] = row.N
	}

	return out, nil
}

type messageLogRow struct {
	ID           string  `db:"id"`
	OwnerID      string  `db:"owner_id"`
	ContactID    string  `db:"contact_id"`
	EnrollmentID *string `db:"enrollment_id"`
	ToNumber     string  `db:"to_number"`
	FromNumber   string  `db:"from_number"`
	Body         string  `db:"body"`
	Status       string  `db:"status"`
	ProviderRef  *string `db:"provider_ref"`
	Error        *string `db:"error_message"`
	Source       string  `db:"source"`
	CreatedAt    int64   `db:"created_at"`
}

func (r *MessageLogRepositoryImpl) ListByContact(ctx context.Context, contactID string, limit int) ([]model.MessageLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []messageLogRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, contact_id, enrollment_id, to_number, from_number, body,
		       status, provider_ref, error_message, source, created_at
		  FROM message_log
		 WHERE contact_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?
	`, contactID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]model.MessageLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.MessageLogEntry{
			ID:           row.ID,
			OwnerID:      row.OwnerID,
			ContactID:    row.ContactID,
			EnrollmentID: deref(row.EnrollmentID),
			ToNumber:     row.ToNumber,
			FromNumber:   row.FromNumber,
			Body:         row.Body,
			Status:       model.MessageStatus(row.Status),
			ProviderRef:  deref(row.ProviderRef),
			Error:        deref(row.Error),
			Source:       row.Source,
			CreatedAt:    fromMillis(row.CreatedAt),
		})
	}

	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
