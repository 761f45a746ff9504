package http

import (
	"context"
	"log"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/http/middleware"
	"github.com/engagekit/campaign-engine/internal/repository"
	"github.com/engagekit/campaign-engine/internal/service/campaign"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, svc *campaign.Service, orgs repository.OrganizationsRepository, rds *redis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(orgs)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:org:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/campaigns", createCampaignHandler(svc))
	v1.GET("/campaigns", listCampaignsHandler(svc))
	v1.GET("/campaigns/:id", getCampaignHandler(svc))
	v1.PUT("/campaigns/:id", updateCampaignHandler(svc))
	v1.DELETE("/campaigns/:id", deleteCampaignHandler(svc))

	v1.POST("/campaigns/:id/start", startCampaignHandler(svc))
	v1.POST("/campaigns/:id/pause", pauseCampaignHandler(svc))
	v1.POST("/campaigns/:id/resume", resumeCampaignHandler(svc))
	v1.POST("/campaigns/:id/cancel", cancelCampaignHandler(svc))

	v1.GET("/campaigns/:id/queue", listQueueHandler(svc))
	v1.GET("/campaigns/:id/logs", listLogsHandler(svc))
	v1.POST("/campaigns/estimate-recipients", estimateRecipientsHandler(svc))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
