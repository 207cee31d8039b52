package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/repository"
	"github.com/mailplane/mailplane/internal/service/backend"
	"github.com/mailplane/mailplane/internal/util"
)

// triggerWorkerHandler requests an immediate abuse-worker pass. A trigger
// already pending means a pass is imminent anyway, so both cases are 202.
func triggerWorkerHandler(trigger func() bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if trigger == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "worker not running in this process"})
		}
		return c.JSON(http.StatusAccepted, map[string]any{"triggered": trigger()})
	}
}

type eventView struct {
	Bucket     string     `json:"bucket"`
	Action     string     `json:"action"`
	QueueID    string     `json:"queue_id,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	Source     string     `json:"source"`
	EventTime  time.Time  `json:"event_time"`
	WarnedAt   *time.Time `json:"warned_at,omitempty"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
}

type abuseStateView struct {
	Email      string      `json:"email"`
	Status     string      `json:"status"`
	WarnCount  int         `json:"warn_count"`
	LastWarnAt *time.Time  `json:"last_warn_at,omitempty"`
	DisabledAt *time.Time  `json:"disabled_at,omitempty"`
	Events     []eventView `json:"events"`
}

func abuseStateHandler(svc *backend.Service, events repository.EventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := svc.GetAbuseState(c.Request().Context(), c.Param("email"))
		if err != nil {
			return writeErr(c, err)
		}

		recent, err := events.ListRecent(c.Request().Context(), util.NormalizeEmail(c.Param("email")), 50)
		if err != nil {
			return writeErr(c, err)
		}

		view := abuseStateView{
			Email:      st.Email,
			Status:     st.Status.String(),
			WarnCount:  st.WarnCount,
			LastWarnAt: st.LastWarnAt,
			DisabledAt: st.DisabledAt,
			Events:     make([]eventView, 0, len(recent)),
		}
		for _, ev := range recent {
			view.Events = append(view.Events, toEventView(ev))
		}
		return c.JSON(http.StatusOK, view)
	}
}

func toEventView(ev model.RateLimitEvent) eventView {
	return eventView{
		Bucket:     ev.Bucket,
		Action:     ev.Action,
		QueueID:    ev.QueueID,
		MessageID:  ev.MessageID,
		Source:     ev.Source,
		EventTime:  ev.EventTime,
		WarnedAt:   ev.WarnedAt,
		DisabledAt: ev.DisabledAt,
	}
}
