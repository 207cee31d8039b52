package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/abuse"
	"github.com/mailplane/mailplane/internal/command"
	"github.com/mailplane/mailplane/internal/config"
	"github.com/mailplane/mailplane/internal/db"
	"github.com/mailplane/mailplane/internal/keys"
	"github.com/mailplane/mailplane/internal/logger"
	"github.com/mailplane/mailplane/internal/metrics"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/service/backend"
)

// abuseCmd runs the abuse detection worker standalone, without the admin
// API. Safe to run alongside a serve process: the event hash dedups work
// between them.
var abuseCmd = &cobra.Command{
	Use:   "abuse",
	Short: "Run the abuse detection worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		defer logger.Sync()

		metrics.MustRegister(prometheus.DefaultRegisterer)

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

		domainsRepo := repository.NewDomainsRepository(dbx)
		mailboxesRepo := repository.NewMailboxesRepository(dbx)
		stateRepo := repository.NewStateRepository(dbx)
		eventsRepo := repository.NewEventsRepository(dbx)
		outboxRepo := repository.NewOutboxRepository(dbx)
		auditRec := repository.NewAuditRecorder(dbx, outboxRepo, cfg.Kafka.AuditTopic)

		runner := command.ShellRunner{}
		keyMgr := keys.NewManager(cfg.DKIM, runner)
		backendSvc := backend.New(domainsRepo, mailboxesRepo, stateRepo, keyMgr, cfg.DKIM.Selector, logger.Log)

		var sources []abuse.Source
		if cfg.Abuse.LogFile.Enabled {
			sources = append(sources, abuse.NewFileSource(cfg.Abuse.LogFile.Path, cfg.Abuse.LogFile.Tail))
		}
		if cfg.Abuse.Journal.Enabled {
			sources = append(sources, abuse.NewJournalSource(runner, cfg.Abuse.Journal.Unit, cfg.Abuse.Journal.Since, cfg.Abuse.Journal.Timeout))
		}
		if len(sources) == 0 {
			return fmt.Errorf("no log sources enabled in config")
		}

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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("abuse worker starting",
			zap.Duration("interval", cfg.Abuse.Interval),
			zap.Duration("window", cfg.Abuse.Window),
			zap.Int("sources", len(sources)))

		return sched.Run(ctx)
	},
}
