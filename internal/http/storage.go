package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/mailplane/mailplane/internal/maildir"
	"github.com/mailplane/mailplane/internal/service/backend"
)

func storageUsageHandler(ins *maildir.Inspector, svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := svc.GetMailbox(c.Request().Context(), c.Param("email"))
		if err != nil {
			return writeErr(c, err)
		}

		usage, err := ins.Usage(c.Request().Context(), m.Email)
		if err != nil {
			return writeStorageErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"email": m.Email, "usage": usage})
	}
}

type purgeReq struct {
	Confirm string `json:"confirm"`
}

// storagePurgeHandler deletes all stored mail for a mailbox. The caller must
// echo the exact address in the confirm field; anything else is rejected
// before any file is touched.
func storagePurgeHandler(ins *maildir.Inspector, svc *backend.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := svc.GetMailbox(c.Request().Context(), c.Param("email"))
		if err != nil {
			return writeErr(c, err)
		}

		var req purgeReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if strings.TrimSpace(strings.ToLower(req.Confirm)) != m.Email {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "confirm must match the mailbox address exactly",
			})
		}

		result, err := ins.Purge(c.Request().Context(), m.Email)
		if err != nil {
			return writeStorageErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"email": m.Email, "purged": result})
	}
}

func writeStorageErr(c echo.Context, err error) error {
	if errors.Is(err, maildir.ErrPermission) {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	log.Errorf("storage operation failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage error"})
}
