package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/config"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/runstate"
	"github.com/jmehdipour/sms-sequencer/internal/transport"
)

type checkStatus string

const (
	statusOK       checkStatus = "ok"
	statusDegraded checkStatus = "degraded"
	statusError    checkStatus = "error"
)

func (s checkStatus) rank() int {
	switch s {
	case statusError:
		return 2
	case statusDegraded:
		return 1
	}
	return 0
}

type healthCheck struct {
	Name    string      `json:"name"`
	Status  checkStatus `json:"status"`
	Details string      `json:"details"`
}

type healthResp struct {
	Status      checkStatus                   `json:"status"`
	Mode        string                        `json:"sms_mode"`
	Checks      []healthCheck                 `json:"checks"`
	Enrollments map[model.EnrollmentState]int `json:"enrollments,omitempty"`
	Messages24h map[model.MessageStatus]int   `json:"messages_24h,omitempty"`
	LastRun     *runstate.Snapshot            `json:"last_run,omitempty"`
}

const healthTimeout = 3 * time.Second

// healthHandler reports the store, scheduler and transport checks. The
// overall status is the worst check; an error answers 500.
func healthHandler(cfg config.Config, d Deps) echo.HandlerFunc {
	tcfg := cfg.TransportSettings()

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		resp := healthResp{Status: statusOK, Mode: tcfg.Mode.String()}

		// database
		dbCheck := healthCheck{Name: "database", Status: statusOK, Details: "reachable"}
		if err := d.DB.PingContext(ctx); err != nil {
			dbCheck = healthCheck{Name: "database", Status: statusError, Details: err.Error()}
		}
		resp.Checks = append(resp.Checks, dbCheck)

		// scheduler: enrollment counts + last recorded pass
		counts, err := d.Enrollments.Counts(ctx)
		if err != nil {
			d.Logger.Warn("health: count enrollments", zap.Error(err))
		} else {
			resp.Enrollments = counts
		}
		var last *runstate.Snapshot
		var lastErr error
		if d.RunState != nil {
			last, lastErr = d.RunState.Last(ctx)
			resp.LastRun = last
		}
		resp.Checks = append(resp.Checks, schedulerCheck(d.RunState != nil, last, lastErr, counts))

		// transport
		resp.Checks = append(resp.Checks, transportCheck(tcfg, d.Transport))

		if d.Messages != nil {
			byStatus, err := d.Messages.CountSince(ctx, d.Now().Add(-24*time.Hour))
			if err != nil {
				d.Logger.Warn("health: count messages", zap.Error(err))
			} else {
				resp.Messages24h = byStatus
			}
		}

		for _, chk := range resp.Checks {
			if chk.Status.rank() > resp.Status.rank() {
				resp.Status = chk.Status
			}
		}

		code := http.StatusOK
		if resp.Status == statusError {
			code = http.StatusInternalServerError
		}
		return c.JSON(code, resp)
	}
}

func schedulerCheck(enabled bool, last *runstate.Snapshot, lastErr error, counts map[model.EnrollmentState]int) healthCheck {
	chk := healthCheck{Name: "scheduler", Status: statusOK}
	switch {
	case !enabled:
		chk.Status, chk.Details = statusDegraded, "run state not configured"
	case lastErr != nil:
		chk.Status, chk.Details = statusDegraded, "run state unavailable: "+lastErr.Error()
	case last == nil:
		chk.Status, chk.Details = statusDegraded, "no run recorded"
	case !last.OK():
		chk.Status, chk.Details = statusDegraded, "last run failed: "+last.Error
	default:
		chk.Details = fmt.Sprintf("last run at %s processed %d", last.RecordedAt.Format(time.RFC3339), last.Summary.Processed)
	}
	if chk.Status == statusOK && counts != nil && counts[model.StateActive] == 0 {
		chk.Details += "; no active enrollments"
	}
	return chk
}

func transportCheck(cfg transport.Config, state TransportState) healthCheck {
	if err := cfg.Validate(); err != nil {
		return healthCheck{Name: "transport", Status: statusError, Details: err.Error()}
	}
	if cfg.Mode == transport.ModeMock {
		return healthCheck{Name: "transport", Status: statusOK, Details: "mock mode, no messages leave the system"}
	}
	if state != nil && !state.Ready() {
		return healthCheck{Name: "transport", Status: statusDegraded, Details: transport.ErrBreakerOpen.Error()}
	}
	return healthCheck{Name: "transport", Status: statusOK, Details: "live credentials configured"}
}
