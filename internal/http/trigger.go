package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jmehdipour/sms-sequencer/internal/worker"
)

type runResponse struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
}

// runSequencesHandler runs one scheduler pass per request. A caller that goes
// away stops the pass between enrollments.
func runSequencesHandler(runner worker.Runner, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		summary, err := runner.RunOnce(c.Request().Context(), now().UTC())
		if err != nil {
			log.Errorf("sequence run failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusOK, runResponse{
			Processed: summary.Processed,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Deferred:  summary.Deferred,
			Skipped:   summary.Skipped,
		})
	}
}
