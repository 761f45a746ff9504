package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/db"
	"github.com/engagekit/campaign-engine/internal/kafka"
	"github.com/engagekit/campaign-engine/internal/logger"
	"github.com/engagekit/campaign-engine/internal/repository"
	"github.com/engagekit/campaign-engine/internal/worker"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay outbox events to Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		producer := kafka.NewProducerFromConfig(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.EventsTopic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		defer func() { _ = producer.Close() }()

		relay := worker.NewRelay(
			repository.NewOutboxRepository(dbx),
			producer,
			logger.Log,
			cfg.Relay.PollInterval,
			cfg.Relay.BatchSize,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf("relay worker started (topic=%s)", cfg.Kafka.EventsTopic)
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		log.Println("relay worker stopped")
		return nil
	},
}
