package worker

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/config"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/runstate"
	"github.com/jmehdipour/sms-sequencer/internal/transport"
	"github.com/jmehdipour/sms-sequencer/internal/util"
)

// NewFromConfig builds a Sequencer over the relational store. rds is
// optional; without it the last run is not recorded.
func NewFromConfig(cfg config.Config, db *sqlx.DB, rds *redis.Client, logger *zap.Logger) (*Sequencer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	messageLogRepo := repository.NewMessageLogRepository(db)
	tr, err := transport.NewFromConfig(cfg.TransportSettings(), messageLogRepo, logger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s := NewSequencer(
		repository.NewEnrollmentsRepository(db),
		repository.NewStepsRepository(db),
		repository.NewContactsRepository(db),
		repository.NewSettingsRepository(db),
		tr,
		logger,
	)

	// tune knobs
	if cfg.Scheduler.BatchSize > 0 {
		s.BatchSize = cfg.Scheduler.BatchSize
	}
	if cfg.Scheduler.ClaimLease > 0 {
		s.ClaimLease = cfg.Scheduler.ClaimLease
	}
	if cfg.Scheduler.SendTimeout > 0 {
		s.SendTimeout = cfg.Scheduler.SendTimeout
	}
	if dest := strings.TrimSpace(cfg.Transport.TestDestination); dest != "" {
		s.TestDestination = util.NormalizePhone(dest)
		if s.TestDestination == "" {
			return nil, fmt.Errorf("transport.test_destination %q is not a phone number", dest)
		}
	}
	if rds != nil {
		s.Recorder = runstate.NewStore(rds, cfg.Redis.RunStateTTL)
	}

	logger.Info("sequencer configured",
		zap.String("mode", tr.Mode().String()),
		zap.Int("batch_size", s.BatchSize),
		zap.Duration("claim_lease", s.ClaimLease),
		zap.Bool("test_destination", s.TestDestination != ""),
	)

	return s, nil
}
