package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/db"
	"github.com/jmehdipour/sms-sequencer/internal/metrics"
	"github.com/jmehdipour/sms-sequencer/internal/worker"
)

// tickCmd runs exactly one pass, for system cron or a Kubernetes CronJob.
var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler pass and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		// last-run state is best effort for a one-shot pass
		rds, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, last run will not be recorded", zap.Error(err))
		} else {
			defer func() { _ = rds.Close() }()
		}

		seq, err := worker.NewFromConfig(cfg, dbx, rds, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := seq.RunOnce(ctx, time.Now().UTC())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}
