// Package middleware provides the request-level guards of the auth service:
// access-token authentication, role and permission checks, API-key
// authentication and per-class rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/utils"
)

// Context keys set by the auth middleware and read by handlers.
const (
	CtxUserID      = "user_id"
	CtxSessionID   = "session_id"
	CtxRoles       = "roles"
	CtxPermissions = "permissions"
	CtxClaims      = "claims"
)

// JWTAuth validates the access token on protected routes and injects the
// verified identity into the request context. The token is taken from the
// Authorization header, falling back to the access_token cookie for
// browser clients. Every failure mode answers the same 401.
func JWTAuth(secret, issuer, audience string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}
			claims, err := utils.VerifyAccessToken(secret, issuer, audience, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			c.Set(CtxUserID, claims.UserID)
			c.Set(CtxSessionID, claims.SessionID)
			c.Set(CtxRoles, claims.Roles)
			c.Set(CtxPermissions, claims.Permissions)
			c.Set(CtxClaims, claims)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}
