package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mailplane/mailplane/internal/repository"
)

// listAuditHandler serves the long-term audit archive from ClickHouse,
// filterable by mailbox and event kind.
func listAuditHandler(audit repository.CHAuditRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		offset, _ := strconv.Atoi(c.QueryParam("offset"))

		rows, err := audit.List(
			c.Request().Context(),
			c.QueryParam("email"),
			c.QueryParam("kind"),
			limit, offset,
		)
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"events": rows, "count": len(rows)})
	}
}
