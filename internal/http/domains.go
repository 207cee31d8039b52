package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/service/backend"
)

type domainView struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Active       bool      `json:"active"`
	DKIMSelector string    `json:"dkim_selector"`
	MailboxCount int       `json:"mailbox_count"`
	QuotaTotalMB int64     `json:"quota_total_mb"`
	CreatedAt    time.Time `json:"created_at"`
}

func toDomainView(d model.Domain, mailboxes int, quota int64) domainView {
	return domainView{
		Name:         d.Name,
		Description:  d.Description,
		Active:       d.Active,
		DKIMSelector: d.DKIMSelector,
		MailboxCount: mailboxes,
		QuotaTotalMB: quota,
		CreatedAt:    d.CreatedAt,
	}
}

func listDomainsHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		summaries, err := svc.ListDomains(c.Request().Context())
		if err != nil {
			return writeErr(c, err)
		}
		out := make([]domainView, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, toDomainView(s.Domain, s.MailboxCount, s.QuotaTotalMB))
		}
		return c.JSON(http.StatusOK, map[string]any{"domains": out})
	}
}

type createDomainReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func createDomainHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createDomainReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
		}

		d, err := svc.CreateDomain(c.Request().Context(), req.Name, strings.TrimSpace(req.Description))
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"domain": toDomainView(*d, 0, 0),
			"dkim": model.DKIMRecord{
				Domain:   d.Name,
				Selector: d.DKIMSelector,
				TxtValue: d.DKIMTxtValue,
			},
		})
	}
}

func deleteDomainHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteDomain(c.Request().Context(), c.Param("name")); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"deleted": true})
	}
}

func getDKIMHandler(svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		rec, err := svc.GetDKIMRecord(c.Request().Context(), c.Param("name"))
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, rec)
	}
}
