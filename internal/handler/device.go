package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/middleware"
	"github.com/WIREMI/wiremi-auth/internal/service"
)

// DeviceHandler exposes the caller's device and session inventory.
type DeviceHandler struct {
	Devices  *service.DeviceService
	Sessions *service.SessionService
}

func NewDeviceHandler(devices *service.DeviceService, sessions *service.SessionService) *DeviceHandler {
	return &DeviceHandler{Devices: devices, Sessions: sessions}
}

type devicePart struct {
	ID         string    `json:"id"`
	IsTrusted  bool      `json:"is_trusted"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}
type sessionPart struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Current    bool      `json:"current"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ListDevices: the caller's devices, most recently seen first. The stored
// fingerprint hash is never returned.
func (h *DeviceHandler) ListDevices(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	devices, err := h.Devices.List(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	out := make([]devicePart, 0, len(devices))
	for _, d := range devices {
		out = append(out, devicePart{
			ID:         d.ID,
			IsTrusted:  d.IsTrusted,
			LastSeenAt: d.LastSeenAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"devices": out})
}

// RevokeDevice: clears trust and ends every session on the device.
func (h *DeviceHandler) RevokeDevice(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "device id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.Devices.Revoke(ctx, middleware.UserID(c), deviceID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "device revoked"})
}

// ListSessions: the caller's active sessions, oldest first.
func (h *DeviceHandler) ListSessions(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	sessions, err := h.Sessions.ListActive(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	current := middleware.SessionID(c)
	out := make([]sessionPart, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionPart{
			ID:         s.ID,
			DeviceID:   s.DeviceID,
			Current:    s.ID == current,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}
