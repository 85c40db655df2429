package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/db"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/service/enrollment"
)

const (
	demoOwner    = "owner-demo"
	demoSequence = "seq-demo"
	demoContact  = "contact-demo"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo sequence, contact and enrollment",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Info("seeding demo data", zap.String("owner_id", demoOwner))

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := seedDemo(ctx, sqlDB); err != nil {
			return err
		}

		enrollments := repository.NewEnrollmentsRepository(sqlDB)
		svc := enrollment.New(
			sqlDB,
			enrollments,
			repository.NewSequencesRepository(sqlDB),
			repository.NewStepsRepository(sqlDB),
			repository.NewContactsRepository(sqlDB),
		)
		e, err := svc.Enroll(ctx, demoSequence, demoContact)
		if err != nil {
			return fmt.Errorf("enroll demo contact: %w", err)
		}

		log.Info("seed completed",
			zap.String("enrollment_id", e.ID),
			zap.Int("current_step", e.CurrentStep),
			zap.Timep("next_run_at", e.NextRunAt),
		)
		return nil
	},
}

// seedDemo replaces the demo owner's sequence, steps, contact and quiet
// hours. Deleting the sequence and contact cascades to their enrollments.
func seedDemo(ctx context.Context, dbx *sqlx.DB) error {
	sequences := repository.NewSequencesRepository(dbx)
	steps := repository.NewStepsRepository(dbx)
	contacts := repository.NewContactsRepository(dbx)
	settings := repository.NewSettingsRepository(dbx)

	tx, err := dbx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, q := range []string{
		"DELETE FROM enrollments WHERE owner_id = ?",
		"DELETE FROM sequence_steps WHERE sequence_id IN (SELECT id FROM sequences WHERE owner_id = ?)",
		"DELETE FROM sequences WHERE owner_id = ?",
		"DELETE FROM contacts WHERE owner_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, demoOwner); err != nil {
			return fmt.Errorf("clear demo data: %w", err)
		}
	}

	now := time.Now().UTC()

	if err := settings.UpsertQuietHours(ctx, tx, model.QuietHoursSetting{
		OwnerID:  demoOwner,
		Enabled:  true,
		Start:    "21:00",
		End:      "08:00",
		Timezone: "America/Chicago",
	}, now); err != nil {
		return fmt.Errorf("seed quiet hours: %w", err)
	}

	if err := sequences.Insert(ctx, tx, model.Sequence{
		ID:        demoSequence,
		OwnerID:   demoOwner,
		Name:      "Seller follow-up",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}

	for _, st := range []model.Step{
		{ID: "step-demo-1", StepNumber: 1, DelayMinutes: 0,
			BodyTemplate: "Hi, is {{address}} in {{city}} still available? We can make a cash offer."},
		{ID: "step-demo-2", StepNumber: 2, DelayMinutes: 60 * 24,
			BodyTemplate: "Following up on {{address}}. Listed at {{price}} for {{dom}} days, open to offers?"},
		{ID: "step-demo-3", StepNumber: 3, DelayMinutes: 60 * 24 * 3,
			BodyTemplate: "Last note about {{address}}, {{beds}}bd/{{baths}}ba. Reply STOP to opt out."},
	} {
		st.SequenceID = demoSequence
		if err := steps.Insert(ctx, tx, st); err != nil {
			return fmt.Errorf("seed step %d: %w", st.StepNumber, err)
		}
	}

	price, beds, baths := 289000.0, 3.0, 2.0
	dom, sqft := 41, 1650
	if err := contacts.Insert(ctx, tx, model.Contact{
		ID:          demoContact,
		OwnerID:     demoOwner,
		Address:     "1200 W Madison St",
		City:        "Chicago",
		State:       "IL",
		Zip:         "60607",
		ListPrice:   &price,
		DOM:         &dom,
		Beds:        &beds,
		Baths:       &baths,
		Sqft:        &sqft,
		SellerPhone: "(312) 555-0142",
	}, now); err != nil {
		return fmt.Errorf("seed contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
