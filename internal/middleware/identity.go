package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated user's ID, or "" on unauthenticated
// routes.
func UserID(c echo.Context) string {
	if v, ok := c.Get(CtxUserID).(string); ok {
		return v
	}
	return ""
}

// SessionID returns the session the access token was minted under.
func SessionID(c echo.Context) string {
	if v, ok := c.Get(CtxSessionID).(string); ok {
		return v
	}
	return ""
}

// Roles returns the role names carried by the access token.
func Roles(c echo.Context) []string {
	if v, ok := c.Get(CtxRoles).([]string); ok {
		return v
	}
	return nil
}

// Permissions returns the flattened permission strings carried by the
// access token.
func Permissions(c echo.Context) []string {
	if v, ok := c.Get(CtxPermissions).([]string); ok {
		return v
	}
	return nil
}
