package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/kafka"
	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// Fetcher is the subset of the Kafka consumer the listener needs.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// TriggerListener runs one scheduler pass per tick event read from Kafka.
// Ticks older than StaleAfter are committed without running, so a backlog
// collapses instead of replaying every missed pass.
type TriggerListener struct {
	Consumer   Fetcher
	Runner     Runner
	Logger     *zap.Logger
	StaleAfter time.Duration // 0 disables the check

	clock func() time.Time
}

func NewTriggerListener(consumer Fetcher, runner Runner, logger *zap.Logger) *TriggerListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerListener{
		Consumer:   consumer,
		Runner:     runner,
		Logger:     logger,
		StaleAfter: 5 * time.Minute,
		clock:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (l *TriggerListener) Run(ctx context.Context) error {
	for {
		m, err := l.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.Logger.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		l.handle(ctx, m)

		// at-least-once: a crash before commit replays the tick, which is
		// harmless because claims guard every enrollment.
		if err := l.Consumer.Commit(ctx, m); err != nil && ctx.Err() == nil {
			l.Logger.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

func (l *TriggerListener) handle(ctx context.Context, m kafka.Message) {
	now := l.clock()

	var ev model.TickEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		l.Logger.Warn("bad tick event, skipping", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	if l.StaleAfter > 0 && !ev.RequestedAt.IsZero() && now.Sub(ev.RequestedAt) > l.StaleAfter {
		l.Logger.Info("stale tick skipped", zap.String("tick_id", ev.ID), zap.Time("requested_at", ev.RequestedAt))
		return
	}

	summary, err := l.Runner.RunOnce(ctx, now)
	if err != nil {
		l.Logger.Error("tick pass failed", zap.String("tick_id", ev.ID), zap.Error(err))
		return
	}

	l.Logger.Debug("tick pass done", zap.String("tick_id", ev.ID), zap.Int("processed", summary.Processed))
}
