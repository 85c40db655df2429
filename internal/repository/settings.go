package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

type SettingsRepository interface {
	// QuietHours returns the owner's setting, or nil when none is stored.
	QuietHours(ctx context.Context, ownerID string) (*model.QuietHoursSetting, error)
	UpsertQuietHours(ctx context.Context, tx *sqlx.Tx, s model.QuietHoursSetting, now time.Time) error
}

type SettingsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepositoryImpl {
	return &SettingsRepositoryImpl{db: db}
}

var _ SettingsRepository = (*SettingsRepositoryImpl)(nil)

type quietHoursRow struct {
	OwnerID  string         `db:"owner_id"`
	Enabled  bool           `db:"enabled"`
	Start    sql.NullString `db:"quiet_start"`
	End      sql.NullString `db:"quiet_end"`
	Timezone sql.NullString `db:"timezone"`
}

func (r *SettingsRepositoryImpl) QuietHours(ctx context.Context, ownerID string) (*model.QuietHoursSetting, error) {
	var row quietHoursRow
	err := r.db.GetContext(ctx, &row, `
		SELECT owner_id, enabled, quiet_start, quiet_end, timezone
		  FROM quiet_hours_settings
		 WHERE owner_id = ? LIMIT 1
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.QuietHoursSetting{
		OwnerID:  row.OwnerID,
		Enabled:  row.Enabled,
		Start:    row.Start.String,
		End:      row.End.String,
		Timezone: row.Timezone.String,
	}, nil
}

func (r *SettingsRepositoryImpl) UpsertQuietHours(ctx context.Context, tx *sqlx.Tx, s model.QuietHoursSetting, now time.Time) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quiet_hours_settings WHERE owner_id = ?`, s.OwnerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quiet_hours_settings (owner_id, enabled, quiet_start, quiet_end, timezone, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, s.OwnerID, s.Enabled, s.Start, s.End, s.Timezone, toMillis(now))
		return err
	})
}
