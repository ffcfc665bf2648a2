package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/service"
)

// Context keys set by APIKeyAuth.
const (
	CtxAPITokenID = "api_token_id"
	CtxAPIScopes  = "api_scopes"
)

// APIKeyAuth authenticates machine callers via the X-API-Key header.
// Unknown and expired keys answer the same 401.
func APIKeyAuth(tokens *service.APITokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get("X-API-Key")
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "api key required"})
			}
			token, err := tokens.Authenticate(c.Request().Context(), raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid api key"})
			}
			c.Set(CtxAPITokenID, token.ID)
			c.Set(CtxAPIScopes, token.Scopes)
			return next(c)
		}
	}
}

// RequireScope gates a route on an API-token scope. Must run after
// APIKeyAuth.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scopes, _ := c.Get(CtxAPIScopes).([]string)
			for _, s := range scopes {
				if s == scope {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient scope"})
		}
	}
}
