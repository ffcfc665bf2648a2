package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/middleware"
)

// Whoami echoes the authenticated API token's identity and scopes, so
// integrators can verify a key without touching real data.
func Whoami(c echo.Context) error {
	scopes, _ := c.Get(middleware.CtxAPIScopes).([]string)
	return c.JSON(http.StatusOK, echo.Map{
		"token_id": c.Get(middleware.CtxAPITokenID),
		"scopes":   scopes,
	})
}
