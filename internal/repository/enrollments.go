package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// EnrollmentsRepository persists enrollments. Scheduler writes go through
// Claim/Apply; operator writes go through Save.
type EnrollmentsRepository interface {
	// SelectDue returns unclaimed, active enrollments due at now, oldest first.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error)
	// Claim marks the enrollment as owned by token until now+lease. It reports
	// false when the enrollment is no longer due or another pass holds it.
	Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (bool, error)
	// Apply writes the full state computed under the claim and releases it.
	Apply(ctx context.Context, id, token string, upd model.EnrollmentUpdate, now time.Time) error
	Get(ctx context.Context, id string) (*model.Enrollment, error)
	Insert(ctx context.Context, tx *sqlx.Tx, e model.Enrollment) error
	// Save writes an operator change if e.Version is still current. It drops
	// any outstanding claim so an in-flight pass cannot overwrite it.
	Save(ctx context.Context, e model.Enrollment, upd model.EnrollmentUpdate, now time.Time) error
	Delete(ctx context.Context, id string) error
	CountByState(ctx context.Context) (map[model.EnrollmentState]int, error)
	// List returns enrollments matching q, most recently updated first.
	List(ctx context.Context, q EnrollmentQuery) ([]model.Enrollment, error)
}

// EnrollmentQuery filters List. Zero values match everything.
type EnrollmentQuery struct {
	OwnerID string
	State   model.EnrollmentState
	Errored bool // only rows with last_error set
	Limit   int
	Offset  int
}

type EnrollmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEnrollmentsRepository(db *sqlx.DB) *EnrollmentsRepositoryImpl {
	return &EnrollmentsRepositoryImpl{db: db}
}

var _ EnrollmentsRepository = (*EnrollmentsRepositoryImpl)(nil)

const enrollmentColumns = `
	id, sequence_id, contact_id, owner_id, current_step, next_run_at, is_paused,
	completed_at, last_error, last_error_at, version, created_at, updated_at`

type enrollmentRow struct {
	ID          string         `db:"id"`
	SequenceID  string         `db:"sequence_id"`
	ContactID   string         `db:"contact_id"`
	OwnerID     string         `db:"owner_id"`
	CurrentStep int            `db:"current_step"`
	NextRunAt   sql.NullInt64  `db:"next_run_at"`
	IsPaused    bool           `db:"is_paused"`
	CompletedAt sql.NullInt64  `db:"completed_at"`
	LastError   sql.NullString `db:"last_error"`
	LastErrorAt sql.NullInt64  `db:"last_error_at"`
	Version     int64          `db:"version"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
}

func (r enrollmentRow) toModel() model.Enrollment {
	return model.Enrollment{
		ID:          r.ID,
		SequenceID:  r.SequenceID,
		ContactID:   r.ContactID,
		OwnerID:     r.OwnerID,
		CurrentStep: r.CurrentStep,
		NextRunAt:   timePtr(r.NextRunAt),
		IsPaused:    r.IsPaused,
		CompletedAt: timePtr(r.CompletedAt),
		LastError:   stringPtr(r.LastError),
		LastErrorAt: timePtr(r.LastErrorAt),
		Version:     r.Version,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
}

func (r *EnrollmentsRepositoryImpl) SelectDue(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	if limit <= 0 {
		limit = 20
	}
	ms := toMillis(now)

	var rows []enrollmentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+enrollmentColumns+`
		  FROM enrollments
		 WHERE completed_at IS NULL
		   AND is_paused = 0
		   AND next_run_at IS NOT NULL
		   AND next_run_at <= ?
		   AND (claimed_until IS NULL OR claimed_until <= ?)
		 ORDER BY next_run_at ASC, id ASC
		 LIMIT ?
	`, ms, ms, limit)
	if err != nil {
		return nil, fmt.Errorf("select due enrollments: %w", err)
	}

	out := make([]model.Enrollment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}

	return out, nil
}

func (r *EnrollmentsRepositoryImpl) Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (bool, error) {
	ms := toMillis(now)
	res, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		   SET claim_token = ?, claimed_until = ?
		 WHERE id = ?
		   AND completed_at IS NULL
		   AND is_paused = 0
		   AND next_run_at IS NOT NULL
		   AND next_run_at <= ?
		   AND (claimed_until IS NULL OR claimed_until <= ?)
	`, token, toMillis(now.Add(lease)), id, ms, ms)
	if err != nil {
		return false, fmt.Errorf("claim enrollment %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (r *EnrollmentsRepositoryImpl) Apply(ctx context.Context, id, token string, upd model.EnrollmentUpdate, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		   SET current_step = ?, next_run_at = ?, is_paused = ?, completed_at = ?,
		       last_error = ?, last_error_at = ?,
		       claim_token = NULL, claimed_until = NULL,
		       version = version + 1, updated_at = ?
		 WHERE id = ? AND claim_token = ?
	`,
		upd.CurrentStep, nullMillis(upd.NextRunAt), upd.IsPaused, nullMillis(upd.CompletedAt),
		nullString(upd.LastError), nullMillis(upd.LastErrorAt),
		toMillis(now), id, token,
	)
	if err != nil {
		return fmt.Errorf("apply enrollment %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrClaimLost
	}

	return nil
}

func (r *EnrollmentsRepositoryImpl) Get(ctx context.Context, id string) (*model.Enrollment, error) {
	var row enrollmentRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+enrollmentColumns+`
		  FROM enrollments
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e := row.toModel()
	return &e, nil
}

func (r *EnrollmentsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.Enrollment) error {
	const q = `
		INSERT INTO enrollments
		    (id, sequence_id, contact_id, owner_id, current_step, next_run_at, is_paused,
		     completed_at, last_error, last_error_at, version, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.ID, e.SequenceID, e.ContactID, e.OwnerID, e.CurrentStep,
			nullMillis(e.NextRunAt), e.IsPaused, nullMillis(e.CompletedAt),
			nullString(e.LastError), nullMillis(e.LastErrorAt),
			toMillis(e.CreatedAt), toMillis(e.CreatedAt),
		)
		return err
	})
}

func (r *EnrollmentsRepositoryImpl) Save(ctx context.Context, e model.Enrollment, upd model.EnrollmentUpdate, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		   SET current_step = ?, next_run_at = ?, is_paused = ?, completed_at = ?,
		       last_error = ?, last_error_at = ?,
		       claim_token = NULL, claimed_until = NULL,
		       version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?
	`,
		upd.CurrentStep, nullMillis(upd.NextRunAt), upd.IsPaused, nullMillis(upd.CompletedAt),
		nullString(upd.LastError), nullMillis(upd.LastErrorAt),
		toMillis(now), e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("save enrollment %s: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrConflict
	}

	return nil
}

func (r *EnrollmentsRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete enrollment %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *EnrollmentsRepositoryImpl) CountByState(ctx context.Context) (map[model.EnrollmentState]int, error) {
	var rows []struct {
		State string `db:"state"`
		N     int    `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT CASE
		         WHEN completed_at IS NOT NULL THEN 'completed'
		         WHEN is_paused = 1 THEN 'paused'
		         ELSE 'active'
		       END AS state,
		       COUNT(*) AS n
		  FROM enrollments
		 GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}

	out := map[model.EnrollmentState]int{
		model.StateActive:    0,
		model.StatePaused:    0,
		model.StateCompleted: 0,
	}
	for _, row := range rows {
		out[model.EnrollmentState(row.State)] = row.N
	}

	return out, nil
}

func (r *EnrollmentsRepositoryImpl) List(ctx context.Context, eq EnrollmentQuery) ([]model.Enrollment, error) {
	q, args := buildEnrollmentQuery(eq)

	var rows []enrollmentRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}

	out := make([]model.Enrollment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}

	return out, nil
}

func buildEnrollmentQuery(eq EnrollmentQuery) (string, []any) {
	if eq.Limit <= 0 || eq.Limit > 1000 {
		eq.Limit = 50
	}
	if eq.Offset < 0 {
		eq.Offset = 0
	}

	q := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE 1 = 1`
	var args []any

	if eq.OwnerID != "" {
		q += " AND owner_id = ?"
		args = append(args, eq.OwnerID)
	}
	switch eq.State {
	case model.StateActive:
		q += " AND completed_at IS NULL AND is_paused = 0"
	case model.StatePaused:
		q += " AND completed_at IS NULL AND is_paused = 1"
	case model.StateCompleted:
		q += " AND completed_at IS NOT NULL"
	}
	if eq.Errored {
		q += " AND last_error IS NOT NULL"
	}

	q += " ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, eq.Limit, eq.Offset)

	return q, args
}
