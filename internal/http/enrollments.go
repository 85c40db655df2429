package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/service/enrollment"
)

type enrollReq struct {
	SequenceID string `json:"sequence_id"`
	ContactID  string `json:"contact_id"`
}

type enrollmentResp struct {
	ID          string     `json:"id"`
	SequenceID  string     `json:"sequence_id"`
	ContactID   string     `json:"contact_id"`
	OwnerID     string     `json:"owner_id"`
	State       string     `json:"state"`
	CurrentStep int        `json:"current_step"`
	NextRunAt   *time.Time `json:"next_run_at"`
	IsPaused    bool       `json:"is_paused"`
	CompletedAt *time.Time `json:"completed_at"`
	LastError   *string    `json:"last_error"`
	LastErrorAt *time.Time `json:"last_error_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toEnrollmentResp(e *model.Enrollment) enrollmentResp {
	return enrollmentResp{
		ID:          e.ID,
		SequenceID:  e.SequenceID,
		ContactID:   e.ContactID,
		OwnerID:     e.OwnerID,
		State:       e.State().String(),
		CurrentStep: e.CurrentStep,
		NextRunAt:   e.NextRunAt,
		IsPaused:    e.IsPaused,
		CompletedAt: e.CompletedAt,
		LastError:   e.LastError,
		LastErrorAt: e.LastErrorAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func enrollHandler(svc EnrollmentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enrollReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.SequenceID = strings.TrimSpace(req.SequenceID)
		req.ContactID = strings.TrimSpace(req.ContactID)
		if req.SequenceID == "" || req.ContactID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "sequence_id and contact_id are required"})
		}

		e, err := svc.Enroll(c.Request().Context(), req.SequenceID, req.ContactID)
		if err != nil {
			return enrollmentError(c, err)
		}

		return c.JSON(http.StatusCreated, toEnrollmentResp(e))
	}
}

func getEnrollmentHandler(svc EnrollmentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		e, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return enrollmentError(c, err)
		}
		return c.JSON(http.StatusOK, toEnrollmentResp(e))
	}
}

// listEnrollmentsHandler filters by owner_id, state and errored, e.g.
// ?state=paused&errored=true for everything waiting on an operator.
func listEnrollmentsHandler(svc EnrollmentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := repository.EnrollmentQuery{
			OwnerID: strings.TrimSpace(c.QueryParam("owner_id")),
			Limit:   50,
		}
		if raw := strings.TrimSpace(c.QueryParam("state")); raw != "" {
			q.State = model.EnrollmentState(raw)
			if !q.State.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "state must be active, paused or completed"})
			}
		}
		if raw := c.QueryParam("errored"); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "errored must be a boolean"})
			}
			q.Errored = b
		}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				q.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				q.Offset = n
			}
		}

		list, err := svc.List(c.Request().Context(), q)
		if err != nil {
			return enrollmentError(c, err)
		}

		results := make([]enrollmentResp, 0, len(list))
		for i := range list {
			results = append(results, toEnrollmentResp(&list[i]))
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   q.Limit,
			"offset":  q.Offset,
			"count":   len(results),
			"results": results,
		})
	}
}

// operatorHandler serves pause, resume and reset-error, which share a shape.
func operatorHandler(action func(ctx context.Context, id string) (*model.Enrollment, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		e, err := action(c.Request().Context(), c.Param("id"))
		if err != nil {
			return enrollmentError(c, err)
		}
		return c.JSON(http.StatusOK, toEnrollmentResp(e))
	}
}

func deleteEnrollmentHandler(svc EnrollmentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return enrollmentError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func enrollmentError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, enrollment.ErrNotFound),
		errors.Is(err, enrollment.ErrSequenceNotFound),
		errors.Is(err, enrollment.ErrContactNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, enrollment.ErrSequenceInactive),
		errors.Is(err, enrollment.ErrOwnerMismatch),
		errors.Is(err, enrollment.ErrNoSteps):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, enrollment.ErrCompleted),
		errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	log.Errorf("enrollment request failed: %v", err)

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
}
