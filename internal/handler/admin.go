package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/middleware"
	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/service"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

// AdminHandler exposes the privileged management surface: onboarding,
// account unlock and API-token administration.
type AdminHandler struct {
	Auth   *service.AuthService
	Tokens *service.APITokenService
}

func NewAdminHandler(auth *service.AuthService, tokens *service.APITokenService) *AdminHandler {
	return &AdminHandler{Auth: auth, Tokens: tokens}
}

type onboardReq struct {
	Email            string `json:"email"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Password         string `json:"password"`
	Role             string `json:"role"`
	SendWelcomeEmail bool   `json:"send_welcome_email"`
}
type mintTokenReq struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
}
type apiTokenPart struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	CreatedBy  string     `json:"created_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Onboard: creates a pre-verified account with a role. The invariant that
// an existing email is never overwritten lives in the service; here it
// surfaces as 409.
func (h *AdminHandler) Onboard(c echo.Context) error {
	var req onboardReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	v := utils.Merge(utils.ValidateCredentials(req.Email, req.Password),
		utils.ValidateName("first_name", req.FirstName),
		utils.ValidateName("last_name", req.LastName))
	if req.Role == "" {
		v.IsValid = false
		v.Errors["role"] = "role is required"
	}
	if !v.IsValid {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": v.Errors})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	user, err := h.Auth.OnboardAdmin(ctx, service.OnboardAdminInput{
		Email:            req.Email,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Password:         req.Password,
		Role:             req.Role,
		SendWelcomeEmail: req.SendWelcomeEmail,
		AssignedBy:       middleware.UserID(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": toUserPart(user)})
}

// Unlock: administrative lockout reset for a user.
func (h *AdminHandler) Unlock(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.Auth.UnlockAccount(ctx, userID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "account unlocked"})
}

// MintToken: creates a scoped API token. The raw value appears in this
// response only.
func (h *AdminHandler) MintToken(c echo.Context) error {
	var req mintTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Name == "" || len(req.Scopes) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name/scopes required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	raw, token, err := h.Tokens.Mint(ctx, req.Name, req.Scopes, req.ExpiresAt, middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"token":     raw,
		"api_token": toAPITokenPart(token),
	})
}

// ListTokens: all API tokens, newest first. Hashes are never returned.
func (h *AdminHandler) ListTokens(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	tokens, err := h.Tokens.List(ctx)
	if err != nil {
		return fail(c, err)
	}
	out := make([]apiTokenPart, 0, len(tokens))
	for i := range tokens {
		out = append(out, toAPITokenPart(&tokens[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"api_tokens": out})
}

// RevokeToken: deletes an API token.
func (h *AdminHandler) RevokeToken(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), handlerTimeout)
	defer cancel()

	if err := h.Tokens.Revoke(ctx, id); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "token revoked"})
}

func toAPITokenPart(t *model.APIToken) apiTokenPart {
	return apiTokenPart{
		ID:         t.ID,
		Name:       t.Name,
		Scopes:     t.Scopes,
		CreatedBy:  t.CreatedBy,
		ExpiresAt:  t.ExpiresAt,
		LastUsedAt: t.LastUsedAt,
		CreatedAt:  t.CreatedAt,
	}
}
