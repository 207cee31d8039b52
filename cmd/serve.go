package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/abuse"
	"github.com/mailplane/mailplane/internal/command"
	"github.com/mailplane/mailplane/internal/config"
	"github.com/mailplane/mailplane/internal/db"
	httpSrv "github.com/mailplane/mailplane/internal/http"
	"github.com/mailplane/mailplane/internal/keys"
	"github.com/mailplane/mailplane/internal/logger"
	"github.com/mailplane/mailplane/internal/maildir"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/service/backend"
)

// serveCmd runs the admin API plus the abuse worker in-process so that
// POST /v1/abuse/run can trigger an immediate pass. The worker can also run
// standalone via `mailplane worker abuse`; the event-hash dedup keeps
// overlapping deployments harmless.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP admin API (with embedded abuse worker)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		defer logger.Sync()

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

		// repositories (MySQL)
		adminsRepo := repository.NewAdminsRepository(mysqlDB)
		domainsRepo := repository.NewDomainsRepository(mysqlDB)
		mailboxesRepo := repository.NewMailboxesRepository(mysqlDB)
		stateRepo := repository.NewStateRepository(mysqlDB)
		eventsRepo := repository.NewEventsRepository(mysqlDB)
		outboxRepo := repository.NewOutboxRepository(mysqlDB)
		auditRec := repository.NewAuditRecorder(mysqlDB, outboxRepo, cfg.Kafka.AuditTopic)

		// repositories (ClickHouse)
		chAuditRepo := repository.NewCHAuditRepository(chDB)

		// external command execution
		runner := command.ShellRunner{}

		// services
		keyMgr := keys.NewManager(cfg.DKIM, runner)
		backendSvc := backend.New(domainsRepo, mailboxesRepo, stateRepo, keyMgr, cfg.DKIM.Selector, logger.Log)
		inspector := maildir.NewInspector(cfg.Storage, runner, logger.Log)

		// abuse worker
		sources := buildSources(cfg.Abuse, runner)
		engine := abuse.NewEngine(
			sources,
			abuse.NewParser(cfg.Abuse.Markers),
			eventsRepo,
			stateRepo,
			auditRec,
			backendSvc,
			cfg.Abuse.Window,
			logger.Log,
		)
		sched := abuse.NewScheduler(engine.Run, cfg.Abuse.Interval, logger.Log)

		server := httpSrv.NewServer(cfg, redisClient, httpSrv.Deps{
			Admins:        adminsRepo,
			Backend:       backendSvc,
			Inspector:     inspector,
			Events:        eventsRepo,
			Audit:         chAuditRepo,
			TriggerWorker: sched.TriggerNow,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() { _ = sched.Run(ctx) }()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		select {
		case <-ctx.Done():
			logger.Log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutCtx)

		return nil
	},
}

// buildSources assembles the enabled log sources from config.
func buildSources(cfg config.AbuseConfig, runner command.Runner) []abuse.Source {
	var sources []abuse.Source
	if cfg.LogFile.Enabled {
		sources = append(sources, abuse.NewFileSource(cfg.LogFile.Path, cfg.LogFile.Tail))
	}
	if cfg.Journal.Enabled {
		sources = append(sources, abuse.NewJournalSource(runner, cfg.Journal.Unit, cfg.Journal.Since, cfg.Journal.Timeout))
	}
	return sources
}
