package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mailplane/mailplane/internal/config"
	"github.com/mailplane/mailplane/internal/http/middleware"
	"github.com/mailplane/mailplane/internal/maildir"
	"github.com/mailplane/mailplane/internal/metrics"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/service/backend"
)

// Deps are the wired components the admin API exposes. TriggerWorker requests
// an immediate abuse-worker pass and reports whether one was accepted.
type Deps struct {
	Admins        repository.AdminsRepository
	Backend       *backend.Service
	Inspector     *maildir.Inspector
	Events        repository.EventsRepository
	Audit         repository.CHAuditRepository
	TriggerWorker func() bool
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, rds *redis.Client, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(d.Admins)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	v1.GET("/domains", listDomainsHandler(d.Backend))
	v1.POST("/domains", createDomainHandler(d.Backend))
	v1.DELETE("/domains/:name", deleteDomainHandler(d.Backend))
	v1.GET("/domains/:name/dkim", getDKIMHandler(d.Backend))

	v1.GET("/mailboxes", listMailboxesHandler(d.Backend))
	v1.POST("/mailboxes", createMailboxHandler(d.Backend))
	v1.GET("/mailboxes/:email", getMailboxHandler(d.Backend))
	v1.DELETE("/mailboxes/:email", deleteMailboxHandler(d.Backend))
	v1.PUT("/mailboxes/:email/quota", setQuotaHandler(d.Backend))
	v1.PUT("/mailboxes/:email/password", resetPasswordHandler(d.Backend))
	v1.POST("/mailboxes/:email/enable", enableMailboxHandler(d.Backend))
	v1.POST("/mailboxes/:email/disable", disableMailboxHandler(d.Backend))

	v1.GET("/mailboxes/:email/storage", storageUsageHandler(d.Inspector, d.Backend))
	v1.POST("/mailboxes/:email/storage/purge", storagePurgeHandler(d.Inspector, d.Backend))

	v1.POST("/abuse/run", triggerWorkerHandler(d.TriggerWorker))
	v1.GET("/abuse/state/:email", abuseStateHandler(d.Backend, d.Events))

	v1.GET("/reports/audit", listAuditHandler(d.Audit))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Infof("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// writeErr maps service errors onto HTTP statuses: validation to 400,
// missing entities to 404, everything else to an opaque 500.
func writeErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, backend.ErrInvalidDomain),
		errors.Is(err, backend.ErrInvalidEmail),
		errors.Is(err, backend.ErrWeakPassword),
		errors.Is(err, backend.ErrInvalidQuota):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, backend.ErrDomainNotFound),
		errors.Is(err, backend.ErrMailboxNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Errorf("request failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
