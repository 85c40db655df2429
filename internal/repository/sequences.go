package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

type SequencesRepository interface {
	Get(ctx context.Context, id string) (*model.Sequence, error)
	Insert(ctx context.Context, tx *sqlx.Tx, s model.Sequence) error
}

type SequencesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSequencesRepository(db *sqlx.DB) *SequencesRepositoryImpl {
	return &SequencesRepositoryImpl{db: db}
}

var _ SequencesRepository = (*SequencesRepositoryImpl)(nil)

type sequenceRow struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	Name      string `db:"name"`
	IsActive  bool   `db:"is_active"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *SequencesRepositoryImpl) Get(ctx context.Context, id string) (*model.Sequence, error) {
	var row sequenceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, owner_id, name, is_active, created_at, updated_at
		  FROM sequences
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.Sequence{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		IsActive:  row.IsActive,
		CreatedAt: fromMillis(row.CreatedAt),
		UpdatedAt: fromMillis(row.UpdatedAt),
	}, nil
}

func (r *SequencesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, s model.Sequence) error {
	const q = `
		INSERT INTO sequences (id, owner_id, name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			s.ID, s.OwnerID, s.Name, s.IsActive, toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
		)
		return err
	})
}
