package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/middleware"
	"github.com/WIREMI/wiremi-auth/internal/service"
)

// MFAHandler exposes enrollment and management of the second factor. All
// routes require an authenticated session.
type MFAHandler struct {
	MFA *service.MFAService
}

func NewMFAHandler(mfa *service.MFAService) *MFAHandler {
	return &MFAHandler{MFA: mfa}
}

type mfaCodeReq struct {
	Code string `json:"code"`
}
type mfaDisableReq struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}
type enrollResp struct {
	Secret      string   `json:"secret"`
	QRPayload   string   `json:"qr_payload"`
	BackupCodes []string `json:"backup_codes"`
}

// Enroll: generates a pending secret and backup codes. The secret and raw
// codes appear in this response only.
func (h *MFAHandler) Enroll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	enrollment, err := h.MFA.Enroll(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, enrollResp{
		Secret:      enrollment.Secret,
		QRPayload:   enrollment.QRPayload,
		BackupCodes: enrollment.BackupCodes,
	})
}

// Confirm: proves a live code against the pending secret, enabling MFA.
func (h *MFAHandler) Confirm(c echo.Context) error {
	var req mfaCodeReq
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.MFA.ConfirmEnrollment(ctx, middleware.UserID(c), req.Code); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "mfa enabled"})
}

// Cancel: abandons a pending enrollment.
func (h *MFAHandler) Cancel(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.MFA.CancelEnrollment(ctx, middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "enrollment cancelled"})
}

// Disable: turns MFA off. Requires the password and a current code, so a
// hijacked session alone cannot strip the second factor.
func (h *MFAHandler) Disable(c echo.Context) error {
	var req mfaDisableReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Password == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password/code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.MFA.Disable(ctx, middleware.UserID(c), req.Password, req.Code); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "mfa disabled"})
}

// RegenerateBackupCodes: replaces the backup-code set. Requires a live
// TOTP code.
func (h *MFAHandler) RegenerateBackupCodes(c echo.Context) error {
	var req mfaCodeReq
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	codes, err := h.MFA.RegenerateBackupCodes(ctx, middleware.UserID(c), req.Code)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"backup_codes": codes})
}
