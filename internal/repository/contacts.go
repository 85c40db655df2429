package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

type ContactsRepository interface {
	Get(ctx context.Context, id string) (*model.Contact, error)
	Insert(ctx context.Context, tx *sqlx.Tx, c model.Contact, now time.Time) error
}

type ContactsRepositoryImpl struct {
	db *sqlx.DB
}

func NewContactsRepository(db *sqlx.DB) *ContactsRepositoryImpl {
	return &ContactsRepositoryImpl{db: db}
}

var _ ContactsRepository = (*ContactsRepositoryImpl)(nil)

type contactRow struct {
	ID          string          `db:"id"`
	OwnerID     string          `db:"owner_id"`
	Address     sql.NullString  `db:"address"`
	City        sql.NullString  `db:"city"`
	State       sql.NullString  `db:"state"`
	Zip         sql.NullString  `db:"zip"`
	ListPrice   sql.NullFloat64 `db:"list_price"`
	ARV         sql.NullFloat64 `db:"arv"`
	DOM         sql.NullInt64   `db:"dom"`
	Beds        sql.NullFloat64 `db:"beds"`
	Baths       sql.NullFloat64 `db:"baths"`
	Sqft        sql.NullInt64   `db:"sqft"`
	SellerPhone sql.NullString  `db:"seller_phone"`
}

func (r contactRow) toModel() model.Contact {
	return model.Contact{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Address:     r.Address.String,
		City:        r.City.String,
		State:       r.State.String,
		Zip:         r.Zip.String,
		ListPrice:   floatPtr(r.ListPrice),
		ARV:         floatPtr(r.ARV),
		DOM:         intPtr(r.DOM),
		Beds:        floatPtr(r.Beds),
		Baths:       floatPtr(r.Baths),
		Sqft:        intPtr(r.Sqft),
		SellerPhone: r.SellerPhone.String,
	}
}

func (r *ContactsRepositoryImpl) Get(ctx context.Context, id string) (*model.Contact, error) {
	var row contactRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, owner_id, address, city, state, zip, list_price, arv, dom,
		       beds, baths, sqft, seller_phone
		  FROM contacts
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c := row.toModel()
	return &c, nil
}

func (r *ContactsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, c model.Contact, now time.Time) error {
	const q = `
		INSERT INTO contacts
		    (id, owner_id, address, city, state, zip, list_price, arv, dom,
		     beds, baths, sqft, seller_phone, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.ID, c.OwnerID, emptyAsNull(c.Address), emptyAsNull(c.City), emptyAsNull(c.State),
			emptyAsNull(c.Zip), nullFloat(c.ListPrice), nullFloat(c.ARV), nullInt(c.DOM),
			nullFloat(c.Beds), nullFloat(c.Baths), nullInt(c.Sqft), emptyAsNull(c.SellerPhone),
			toMillis(now),
		)
		return err
	})
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
