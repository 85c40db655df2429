package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/db"
	"github.com/jmehdipour/sms-sequencer/internal/kafka"
	"github.com/jmehdipour/sms-sequencer/internal/metrics"
	"github.com/jmehdipour/sms-sequencer/internal/worker"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run one scheduler pass per tick event consumed from Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		// 2) stores
		dbx, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		rds, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rds.Close() }()

		// 3) scheduler
		seq, err := worker.NewFromConfig(cfg, dbx, rds, log)
		if err != nil {
			return err
		}

		// 4) kafka consumer
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is empty")
		}
		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TickTopic,
			GroupID: cfg.Kafka.GroupID,
		})
		defer consumer.Close()

		l := worker.NewTriggerListener(consumer, seq, log)
		l.StaleAfter = cfg.Kafka.StaleTickAfter

		// 5) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("tick listener started",
			zap.String("topic", cfg.Kafka.TickTopic),
			zap.String("group", cfg.Kafka.GroupID),
			zap.Duration("stale_after", l.StaleAfter),
		)

		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
