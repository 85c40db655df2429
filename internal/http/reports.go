package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
)

func listMessagesHandler(chRepo repository.CHMessagesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID := strings.TrimSpace(c.QueryParam("owner_id"))
		if ownerID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		}

		mq := repository.MessageQuery{
			OwnerID:   ownerID,
			ContactID: strings.TrimSpace(c.QueryParam("contact_id")),
			Source:    strings.TrimSpace(c.QueryParam("source")),
			Limit:     50,
		}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				mq.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				mq.Offset = n
			}
		}

		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.MessageStatus(raw)
			if tmp.Valid() {
				mq.Status = tmp
			}
		}

		msgs, err := chRepo.ListByOwner(c.Request().Context(), mq)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   mq.Limit,
			"offset":  mq.Offset,
			"count":   len(msgs),
			"results": msgs,
		})
	}
}
