package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/kafka"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/util"
)

var publishSource string

// publishTickCmd emits one tick for the listeners, e.g. from system cron.
var publishTickCmd = &cobra.Command{
	Use:   "publish-tick",
	Short: "Publish one tick event to the Kafka tick topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is empty")
		}

		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TickTopic)
		defer p.Close()

		ev := model.TickEvent{
			ID:          util.New(),
			RequestedAt: time.Now().UTC(),
			Source:      publishSource,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.PublishTick(ctx, ev); err != nil {
			return err
		}

		log.Info("tick published", zap.String("id", ev.ID), zap.String("source", ev.Source))
		return nil
	},
}

func init() {
	publishTickCmd.Flags().StringVar(&publishSource, "source", "cli", "source recorded on the tick event")
}
