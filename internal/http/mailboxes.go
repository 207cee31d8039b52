package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/service/backend"
)

// mailboxView is the external shape of a mailbox. The password hash never
// leaves the service.
type mailboxView struct {
	Email       string     `json:"email"`
	Domain      string     `json:"domain"`
	LocalPart   string     `json:"local_part"`
	DisplayName string     `json:"display_name"`
	QuotaMB     int        `json:"quota_mb"`
	Active      bool       `json:"active"`
	DisabledAt  *time.Time `json:"disabled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toMailboxView(m model.Mailbox) mailboxView {
	return mailboxView{
		Email:       m.Email,
		Domain:      m.Domain,
		LocalPart:   m.LocalPart,
		DisplayName: m.DisplayName,
		QuotaMB:     m.QuotaMB,
		Active:      m.Active,
		DisabledAt:  m.DisabledAt,
		CreatedAt:   m.CreatedAt,
	}
}

func listMailboxesHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		boxes, err := svc.ListMailboxes(c.Request().Context(), c.QueryParam("domain"))
		if err != nil {
			return writeErr(c, err)
		}
		out := make([]mailboxView, 0, len(boxes))
		for _, m := range boxes {
			out = append(out, toMailboxView(m))
		}
		return c.JSON(http.StatusOK, map[string]any{"mailboxes": out})
	}
}

type createMailboxReq struct {
	LocalPart   string `json:"local_part"`
	Domain      string `json:"domain"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	QuotaMB     int    `json:"quota_mb"`
}

func createMailboxHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createMailboxReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		m, err := svc.CreateMailbox(c.Request().Context(), backend.CreateMailboxInput{
			LocalPart:   strings.TrimSpace(req.LocalPart),
			Domain:      strings.TrimSpace(req.Domain),
			DisplayName: strings.TrimSpace(req.DisplayName),
			Password:    req.Password,
			QuotaMB:     req.QuotaMB,
		})
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{"mailbox": toMailboxView(*m)})
	}
}

func getMailboxHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := svc.GetMailbox(c.Request().Context(), c.Param("email"))
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"mailbox": toMailboxView(*m)})
	}
}

func deleteMailboxHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteMailbox(c.Request().Context(), c.Param("email")); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"deleted": true})
	}
}

type setQuotaReq struct {
	QuotaMB int `json:"quota_mb"`
}

func setQuotaHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req setQuotaReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if err := svc.SetQuota(c.Request().Context(), c.Param("email"), req.QuotaMB); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"updated": true})
	}
}

type resetPasswordReq struct {
	Password string `json:"password"`
}

func resetPasswordHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req resetPasswordReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if err := svc.ResetPassword(c.Request().Context(), c.Param("email"), req.Password); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"updated": true})
	}
}

// enableMailboxHandler is the manual re-enable boundary: it also resets the
// abuse state so the next violation starts a fresh warn cycle.
func enableMailboxHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.EnableMailbox(c.Request().Context(), c.Param("email")); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"enabled": true})
	}
}

func disableMailboxHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.SetActive(c.Request().Context(), c.Param("email"), false); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"disabled": true})
	}
}
