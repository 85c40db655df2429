package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/sms-sequencer/internal/config"
	"github.com/jmehdipour/sms-sequencer/internal/repository/repotest"
	"github.com/jmehdipour/sms-sequencer/internal/runstate"
	"github.com/jmehdipour/sms-sequencer/internal/transport"
)

func TestNewFromConfigAppliesSettings(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scheduler.BatchSize = 7
	cfg.Scheduler.ClaimLease = 90 * time.Second
	cfg.Transport.TestDestination = "(555) 010-9999"

	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	s, err := NewFromConfig(cfg, repotest.Open(t), rds, nil)
	require.NoError(t, err)
	require.Equal(t, 7, s.BatchSize)
	require.Equal(t, 90*time.Second, s.ClaimLease)
	require.Equal(t, "+15550109999", s.TestDestination)
	require.NotNil(t, s.Recorder)

	_, err = s.RunOnce(context.Background(), time.Now())
	require.NoError(t, err)

	last, err := runstate.NewStore(rds, 0).Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	require.True(t, last.OK())
}

func TestNewFromConfigRejectsIncompleteLiveMode(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Transport.Mode = "production"

	_, err = NewFromConfig(cfg, repotest.Open(t), nil, nil)
	require.ErrorIs(t, err, transport.ErrMisconfigured)
}

func TestNewFromConfigRejectsUnusableTestDestination(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Transport.TestDestination = "555-12"

	_, err = NewFromConfig(cfg, repotest.Open(t), nil, nil)
	require.ErrorContains(t, err, "test_destination")
}
