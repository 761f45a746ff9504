package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/engagekit/campaign-engine/internal/http/middleware"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/service/campaign"
)

type campaignReq struct {
	Name        string       `json:"name"`
	Content     string       `json:"content"`
	ChannelIDs  []string     `json:"channel_ids"`
	Filter      model.Filter `json:"filter"`
	ScheduledAt string       `json:"scheduled_at"` // RFC3339, optional
	CreatedBy   string       `json:"created_by"`
}

func (r campaignReq) toInput() (campaign.CreateInput, error) {
	in := campaign.CreateInput{
		Name:       strings.TrimSpace(r.Name),
		Content:    strings.TrimSpace(r.Content),
		ChannelIDs: r.ChannelIDs,
		Filter:     r.Filter,
		CreatedBy:  strings.TrimSpace(r.CreatedBy),
	}
	if s := strings.TrimSpace(r.ScheduledAt); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return in, err
		}
		in.ScheduledAt = &t
	}
	return in, nil
}

// mapServiceError translates controller sentinels to HTTP statuses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "campaign not found"})
	case errors.Is(err, campaign.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, campaign.ErrInvalidTransition), errors.Is(err, campaign.ErrCampaignLocked):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Errorf("campaign handler: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func pageParams(c echo.Context, defLimit, maxLimit int) (page, limit int) {
	page, limit = 1, defLimit
	if v := c.QueryParam("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	return page, limit
}

func pagination(page, limit, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"limit":       limit,
		"total_count": total,
		"total_pages": (total + limit - 1) / limit,
	}
}

func createCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req campaignReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		in, err := req.toInput()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid scheduled_at"})
		}

		created, err := svc.Create(c.Request().Context(), orgID, in)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusCreated, created)
	}
}

func getCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		found, err := svc.Get(c.Request().Context(), orgID, c.Param("id"))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, found)
	}
}

func listCampaignsHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		page, limit := pageParams(c, 20, 100)
		var status model.CampaignStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st, ok := model.ParseCampaignStatus(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
			status = st
		}

		items, total, err := svc.List(c.Request().Context(), orgID, status, page, limit)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"results":    items,
			"pagination": pagination(page, limit, total),
		})
	}
}

func updateCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req campaignReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		in, err := req.toInput()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid scheduled_at"})
		}

		updated, err := svc.Update(c.Request().Context(), orgID, c.Param("id"), in)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteCampaignHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		if err := svc.Delete(c.Request().Context(), orgID, c.Param("id")); err != nil {
			return mapServiceError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type estimateReq struct {
	ChannelID string       `json:"channel_id"`
	Filter    model.Filter `json:"filter"`
}

func estimateRecipientsHandler(svc *campaign.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, ok := middleware.OrgIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req estimateReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if strings.TrimSpace(req.ChannelID) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel_id is required"})
		}

		n, err := svc.Estimate(c.Request().Context(), orgID, req.ChannelID, req.Filter)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"channel_id": req.ChannelID,
			"estimate":   n,
		})
	}
}
