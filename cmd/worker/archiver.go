package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/config"
	"github.com/mailplane/mailplane/internal/db"
	"github.com/mailplane/mailplane/internal/kafka"
	"github.com/mailplane/mailplane/internal/logger"
	"github.com/mailplane/mailplane/internal/metrics"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/worker"
)

// archiverCmd consumes audit events (relayed from the outbox by Debezium)
// and archives them into ClickHouse.
var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Run the audit archiver (Kafka -> ClickHouse)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		defer logger.Sync()

		metrics.MustRegister(prometheus.DefaultRegisterer)

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

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "mailplane-archiver"
		}
		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.AuditTopic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := worker.NewArchiver(consumer, repository.NewCHAuditRepository(chDB), logger.Log)

		// tune knobs
		if cfg.Archiver.BatchSize > 0 {
			w.BatchSize = cfg.Archiver.BatchSize
		}
		if cfg.Archiver.BatchWait > 0 {
			w.BatchWait = cfg.Archiver.BatchWait
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("archiver starting",
			zap.String("topic", cfg.Kafka.AuditTopic),
			zap.String("group", groupID),
			zap.Int("batch_size", w.BatchSize),
			zap.Duration("batch_wait", w.BatchWait))

		return w.Run(ctx)
	},
}
