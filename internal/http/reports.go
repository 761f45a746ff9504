package http

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/engagekit/campaign-engine/internal/http/middleware"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/service/campaign"
)

func listQueueHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var status model.JobStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st, ok := model.ParseJobStatus(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
			status = st
		}
		page, limit := pageParams(c, 50, 200)

		jobs, total, err := svc.ListQueue(c.Request().Context(), orgID, c.Param("id"), status, page, limit)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"results":    jobs,
			"pagination": pagination(page, limit, total),
		})
	}
}

func listLogsHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var level model.LogLevel
		if raw := strings.TrimSpace(c.QueryParam("level")); raw != "" {
			lv, ok := model.ParseLogLevel(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid level"})
			}
			level = lv
		}
		page, limit := pageParams(c, 50, 200)

		entries, err := svc.ListLogs(c.Request().Context(), orgID, c.Param("id"), level, page, limit)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"page":    page,
			"limit":   limit,
			"count":   len(entries),
			"results": entries,
		})
	}
}
