// Package handler exposes the auth core over HTTP. Handlers bind and
// validate input, delegate to the service layer and translate sentinel
// errors to status codes; they hold no business rules of their own.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/service"
)

// fail maps a service sentinel to its HTTP response. Unrecognized errors
// become an opaque 500; the cause stays in server-side logs.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid email or password"})
	case errors.Is(err, service.ErrAccountLocked):
		return c.JSON(http.StatusLocked, echo.Map{"error": "account is temporarily locked"})
	case errors.Is(err, service.ErrAccountInactive):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is not active"})
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrInvalidMFAToken),
		errors.Is(err, service.ErrInvalidMFACode):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
	case errors.Is(err, service.ErrInsufficientPermissions):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient permissions"})
	case errors.Is(err, service.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	case errors.Is(err, service.ErrDeviceNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "device not found"})
	case errors.Is(err, service.ErrRoleNotFound):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown role"})
	case errors.Is(err, service.ErrMFANotEnabled),
		errors.Is(err, service.ErrMFANotPending),
		errors.Is(err, service.ErrMFAEnabled):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
