package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// StepsRepository reads sequence steps. Lookups return (nil, nil) when no
// step matches.
type StepsRepository interface {
	Get(ctx context.Context, sequenceID string, stepNumber int) (*model.Step, error)
	// Next returns the step with the smallest number greater than after.
	Next(ctx context.Context, sequenceID string, after int) (*model.Step, error)
	First(ctx context.Context, sequenceID string) (*model.Step, error)
	Insert(ctx context.Context, tx *sqlx.Tx, s model.Step) error
}

type StepsRepositoryImpl struct {
	db *sqlx.DB
}

func NewStepsRepository(db *sqlx.DB) *StepsRepositoryImpl {
	return &StepsRepositoryImpl{db: db}
}

var _ StepsRepository = (*StepsRepositoryImpl)(nil)

type stepRow struct {
	ID           string         `db:"id"`
	SequenceID   string         `db:"sequence_id"`
	StepNumber   int            `db:"step_number"`
	DelayMinutes int            `db:"delay_minutes"`
	BodyTemplate sql.NullString `db:"body_template"`
}

const stepColumns = `id, sequence_id, step_number, delay_minutes, body_template`

func (r *StepsRepositoryImpl) Get(ctx context.Context, sequenceID string, stepNumber int) (*model.Step, error) {
	return r.one(ctx, `
		SELECT `+stepColumns+`
		  FROM sequence_steps
		 WHERE sequence_id = ? AND step_number = ?
		 LIMIT 1
	`, sequenceID, stepNumber)
}

func (r *StepsRepositoryImpl) Next(ctx context.Context, sequenceID string, after int) (*model.Step, error) {
	return r.one(ctx, `
		SELECT `+stepColumns+`
		  FROM sequence_steps
		 WHERE sequence_id = ? AND step_number > ?
		 ORDER BY step_number ASC
		 LIMIT 1
	`, sequenceID, after)
}

func (r *StepsRepositoryImpl) First(ctx context.Context, sequenceID string) (*model.Step, error) {
	return r.one(ctx, `
		SELECT `+stepColumns+`
		  FROM sequence_steps
		 WHERE sequence_id = ?
		 ORDER BY step_number ASC
		 LIMIT 1
	`, sequenceID)
}

func (r *StepsRepositoryImpl) one(ctx context.Context, q string, args ...any) (*model.Step, error) {
	var row stepRow
	err := r.db.GetContext(ctx, &row, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.Step{
		ID:           row.ID,
		SequenceID:   row.SequenceID,
		StepNumber:   row.StepNumber,
		DelayMinutes: row.DelayMinutes,
		BodyTemplate: row.BodyTemplate.String,
	}, nil
}

func (r *StepsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, s model.Step) error {
	const q = `
		INSERT INTO sequence_steps (id, sequence_id, step_number, delay_minutes, body_template)
		VALUES (?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			s.ID, s.SequenceID, s.StepNumber, s.DelayMinutes, emptyAsNull(s.BodyTemplate),
		)
		return err
	})
}
