package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/middleware"
	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/service"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

const handlerTimeout = 5 * time.Second

const refreshCookieName = "refresh_token"

// AuthHandler bundles dependencies for the login, token and account
// endpoints.
type AuthHandler struct {
	Cfg  config.Config
	Auth *service.AuthService
}

func NewAuthHandler(cfg config.Config, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Auth: auth}
}

// ----- DTOs -----

type registerReq struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
type loginReq struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Fingerprint    string `json:"fingerprint"`
	RememberDevice bool   `json:"remember_device"`
}
type verifyMFAReq struct {
	MFAToken       string `json:"mfa_token"`
	Code           string `json:"code"`
	Fingerprint    string `json:"fingerprint"`
	RememberDevice bool   `json:"remember_device"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type verifyEmailReq struct {
	Token string `json:"token"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userPart struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}
type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User        userPart  `json:"user"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Access      tokenPart `json:"access"`
	Refresh     tokenPart `json:"refresh"`
}
type mfaRequiredResp struct {
	MFARequired bool   `json:"mfa_required"`
	MFAToken    string `json:"mfa_token"`
}

func toUserPart(u *model.User) userPart {
	return userPart{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		LastLoginAt: u.LastLoginAt,
	}
}

// Register: self-service sign-up. The account stays inactive until the
// emailed verification token is redeemed.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	v := utils.Merge(utils.ValidateCredentials(req.Email, req.Password),
		utils.ValidateName("first_name", req.FirstName),
		utils.ValidateName("last_name", req.LastName))
	if !v.IsValid {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": v.Errors})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	user, err := h.Auth.Register(ctx, service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": toUserPart(user)})
}

// Login: password step. Either returns the full token pair or, when MFA
// gates the account, a short-lived challenge token and nothing else.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	res, err := h.Auth.Login(ctx, service.LoginInput{
		Email:          req.Email,
		Password:       req.Password,
		Fingerprint:    req.Fingerprint,
		RememberDevice: req.RememberDevice,
	})
	if err != nil {
		return fail(c, err)
	}
	if res.RequiresMFA {
		return c.JSON(http.StatusOK, mfaRequiredResp{MFARequired: true, MFAToken: res.MFAToken})
	}
	return h.respondTokens(c, res)
}

// VerifyMFA: second factor step, completing a challenged login.
func (h *AuthHandler) VerifyMFA(c echo.Context) error {
	var req verifyMFAReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.MFAToken == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "mfa_token/code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	res, err := h.Auth.VerifyMFA(ctx, req.MFAToken, req.Code, req.Fingerprint, req.RememberDevice)
	if err != nil {
		return fail(c, err)
	}
	return h.respondTokens(c, res)
}

// Refresh: rotates the refresh token and mints a fresh access token. The
// token is accepted from the body or the HTTP-only cookie.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshTokenFrom(c)
	if raw == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	res, err := h.Auth.Refresh(ctx, raw)
	if err != nil {
		return fail(c, err)
	}
	return h.respondTokens(c, res)
}

// Logout: invalidates the session owning the presented refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	raw := h.refreshTokenFrom(c)
	if raw == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, raw); err != nil {
		return fail(c, err)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"status": "logged out"})
}

// LogoutAll: ends every session of the caller except the current one.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.Auth.LogoutAll(ctx, middleware.UserID(c), middleware.SessionID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "sessions revoked"})
}

// VerifyEmail: redeems an emailed verification token, activating the
// account.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.Auth.VerifyEmail(ctx, req.Token); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "email verified"})
}

// ChangePassword: re-proves the current password and revokes every other
// session on success.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if v := utils.ValidatePassword(req.NewPassword); !v.IsValid {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": v.Errors})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	err := h.Auth.ChangePassword(ctx, middleware.UserID(c), req.CurrentPassword, req.NewPassword, middleware.SessionID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "password changed"})
}

// Me: the caller's token identity. Served from verified claims, no store
// round-trip.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":     middleware.UserID(c),
		"session_id":  middleware.SessionID(c),
		"roles":       middleware.Roles(c),
		"permissions": middleware.Permissions(c),
	})
}

func (h *AuthHandler) respondTokens(c echo.Context, res *service.LoginResult) error {
	h.setRefreshCookie(c, res.RefreshToken)
	return c.JSON(http.StatusOK, authResp{
		User:        toUserPart(res.User),
		Roles:       res.Roles,
		Permissions: res.Permissions,
		Access:      tokenPart{Token: res.AccessToken.Token, Expires: res.AccessToken.Exp},
		Refresh:     tokenPart{Token: res.RefreshToken.Raw, Expires: res.RefreshToken.Exp},
	})
}

func (h *AuthHandler) refreshTokenFrom(c echo.Context) string {
	var req refreshReq
	if err := c.Bind(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// setRefreshCookie mirrors the refresh token into an HTTP-only cookie for
// browser clients. SPA and mobile clients may ignore it and use the body.
func (h *AuthHandler) setRefreshCookie(c echo.Context, token utils.RefreshToken) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    token.Raw,
		Path:     "/v1/auth",
		Expires:  token.Exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
