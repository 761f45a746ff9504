package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/engagekit/campaign-engine/internal/http/middleware"
	"github.com/engagekit/campaign-engine/internal/service/campaign"
)

func startCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		jobs, err := svc.Start(c.Request().Context(), orgID, c.Param("id"))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"status": "processing",
			"jobs":   jobs,
		})
	}
}

// lifecycleHandler covers pause/resume/cancel, which share a shape.
func lifecycleHandler(action string, fn func(c echo.Context, orgID int64, id string) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		if err := fn(c, orgID, c.Param("id")); err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": action})
	}
}

func pauseCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return lifecycleHandler("paused", func(c echo.Context, orgID int64, id string) error {
		return svc.Pause(c.Request().Context(), orgID, id)
	})
}

func resumeCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return lifecycleHandler("processing", func(c echo.Context, orgID int64, id string) error {
		return svc.Resume(c.Request().Context(), orgID, id)
	})
}

func cancelCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return lifecycleHandler("cancelled", func(c echo.Context, orgID int64, id string) error {
		return svc.Cancel(c.Request().Context(), orgID, id)
	})
}
