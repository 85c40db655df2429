package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// CHMessagesRepository lists message-log rows from ClickHouse (latest view).
type CHMessagesRepository interface {
	ListByOwner(ctx context.Context, q MessageQuery) ([]model.MessageLogEntry, error)
}

type MessageQuery struct {
	OwnerID   string
	ContactID string
	Status    model.MessageStatus
	Source    string
	Limit     int
	Offset    int
}

type chMessagesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHMessagesRepository(ch *sqlx.DB) CHMessagesRepository {
	return &chMessagesRepository{ch: ch}
}

func (r *chMessagesRepository) ListByOwner(ctx context.Context, mq MessageQuery) ([]model.MessageLogEntry, error) {
	q, args := buildMessageQuery(mq)

	var rows []model.MessageLogEntry
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func buildMessageQuery(mq MessageQuery) (string, []any) {
	if mq.Limit <= 0 || mq.Limit > 1000 {
		mq.Limit = 50
	}
	if mq.Offset < 0 {
		mq.Offset = 0
	}

	q := `
		SELECT id, owner_id, contact_id, enrollment_id, to_number, from_number, body,
		       status, provider_ref, error_message, source, created_at
		FROM smsseq.message_log_latest
		WHERE owner_id = ?
	`
	args := []any{mq.OwnerID}

	if mq.Status != "" {
		q += " AND status = ?"
		args = append(args, mq.Status.String())
	}
	if mq.ContactID != "" {
		q += " AND contact_id = ?"
		args = append(args, mq.ContactID)
	}
	if mq.Source != "" {
		q += " AND source = ?"
		args = append(args, mq.Source)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, mq.Limit, mq.Offset)

	return q, args
}
