package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/engagekit/campaign-engine/internal/audience"
	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/db"
	"github.com/engagekit/campaign-engine/internal/dispatch"
	"github.com/engagekit/campaign-engine/internal/fanout"
	httpSrv "github.com/engagekit/campaign-engine/internal/http"
	"github.com/engagekit/campaign-engine/internal/logger"
	"github.com/engagekit/campaign-engine/internal/metrics"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/repository"
	campaignSvc "github.com/engagekit/campaign-engine/internal/service/campaign"
	"github.com/engagekit/campaign-engine/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server and dispatch processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		// repositories
		campaignsRepo := repository.NewCampaignsRepository(mysqlDB)
		jobsRepo := repository.NewQueueJobsRepository(mysqlDB)
		channelsRepo := repository.NewChannelsRepository(mysqlDB)
		customersRepo := repository.NewCustomersRepository(mysqlDB)
		orgsRepo := repository.NewOrganizationsRepository(mysqlDB)
		outboxRepo := repository.NewOutboxRepository(mysqlDB)
		logsRepo := repository.NewLogsRepository(chDB)

		// transports from config
		var transports []transport.Transport
		for _, pc := range cfg.Providers {
			kind, ok := model.ParseChannelKind(pc.Kind)
			if !ok || !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
				continue
			}
			transports = append(transports, transport.NewHTTPProvider(
				kind,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			))
		}
		if len(transports) == 0 {
			return fmt.Errorf("no providers enabled in config")
		}
		registry := transport.NewRegistry(transports...)

		// dispatch processor
		limiter := dispatch.NewLimiter(cfg.SendRates)
		processor := dispatch.NewProcessor(
			campaignsRepo, jobsRepo, logsRepo, registry, limiter,
			cfg.Dispatcher, logger.Log,
		)

		// controller
		resolver := audience.NewSQLResolver(customersRepo, channelsRepo)
		materializer := fanout.NewMaterializer(jobsRepo, channelsRepo, resolver, cfg.SendRates)
		svc := campaignSvc.New(
			mysqlDB, campaignsRepo, jobsRepo, channelsRepo, outboxRepo, logsRepo,
			resolver, materializer, processor, cfg.Kafka.EventsTopic, logger.Log,
		)

		// a campaign left processing by a previous instance must not
		// silently stall
		recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = processor.Recover(recoverCtx)
		recoverCancel()
		if err != nil {
			return fmt.Errorf("recover processing campaigns: %w", err)
		}

		server := httpSrv.NewServer(cfg, svc, orgsRepo, redisClient)

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		_ = processor.Shutdown(ctx)

		return nil
	},
}
