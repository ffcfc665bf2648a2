// Package router wires handlers and middleware onto the Echo instance.
// Route grouping mirrors the trust levels: public auth endpoints, an
// authenticated group, a permission-gated admin group and an API-key
// integration group.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/handler"
	"github.com/WIREMI/wiremi-auth/internal/middleware"
	"github.com/WIREMI/wiremi-auth/internal/ratelimit"
	"github.com/WIREMI/wiremi-auth/internal/service"
)

// Deps carries everything route registration needs.
type Deps struct {
	Cfg       config.Config
	RateCfg   config.RateLimitConfig
	Limiter   ratelimit.Limiter
	Auth      *handler.AuthHandler
	MFA       *handler.MFAHandler
	Devices   *handler.DeviceHandler
	Admin     *handler.AdminHandler
	APITokens *service.APITokenService
}

// Register mounts all routes.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)

	rate := func(class config.RateLimitClass) echo.MiddlewareFunc {
		if !d.RateCfg.Enabled || d.Limiter == nil {
			return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		}
		return middleware.RateLimit(d.Limiter, d.RateCfg.Prefix, class)
	}

	// Public auth surface. Each route class carries its own budget; login
	// only burns budget on failures.
	pub := e.Group("/v1/auth")
	pub.POST("/register", d.Auth.Register, rate(d.RateCfg.Register))
	pub.POST("/login", d.Auth.Login, rate(d.RateCfg.Login))
	pub.POST("/verify-mfa", d.Auth.VerifyMFA, rate(d.RateCfg.MFA))
	pub.POST("/refresh", d.Auth.Refresh, rate(d.RateCfg.Refresh))
	pub.POST("/logout", d.Auth.Logout)
	pub.POST("/verify-email", d.Auth.VerifyEmail)

	// Authenticated surface.
	auth := e.Group("/v1/auth", middleware.JWTAuth(d.Cfg.JWTSecret, d.Cfg.JWTIssuer, d.Cfg.JWTAudience))
	auth.GET("/me", d.Auth.Me)
	auth.POST("/logout-all", d.Auth.LogoutAll)
	auth.POST("/change-password", d.Auth.ChangePassword)

	auth.POST("/mfa/enroll", d.MFA.Enroll)
	auth.POST("/mfa/confirm", d.MFA.Confirm, rate(d.RateCfg.MFA))
	auth.POST("/mfa/cancel", d.MFA.Cancel)
	auth.POST("/mfa/disable", d.MFA.Disable, rate(d.RateCfg.MFA))
	auth.POST("/mfa/backup-codes", d.MFA.RegenerateBackupCodes, rate(d.RateCfg.MFA))

	auth.GET("/devices", d.Devices.ListDevices)
	auth.DELETE("/devices/:id", d.Devices.RevokeDevice)
	auth.GET("/sessions", d.Devices.ListSessions)

	// Admin surface, permission-gated per route.
	admin := e.Group("/v1/admin", middleware.JWTAuth(d.Cfg.JWTSecret, d.Cfg.JWTIssuer, d.Cfg.JWTAudience))
	admin.POST("/onboard", d.Admin.Onboard, middleware.RequirePermission("admin:onboard"))
	admin.POST("/users/:id/unlock", d.Admin.Unlock, middleware.RequirePermission("admin:unlock"))
	admin.POST("/api-tokens", d.Admin.MintToken, middleware.RequirePermission("admin:tokens"))
	admin.GET("/api-tokens", d.Admin.ListTokens, middleware.RequirePermission("admin:tokens"))
	admin.DELETE("/api-tokens/:id", d.Admin.RevokeToken, middleware.RequirePermission("admin:tokens"))

	// Machine integration surface, authenticated by API key.
	integ := e.Group("/v1/integrations", middleware.APIKeyAuth(d.APITokens))
	integ.GET("/whoami", handler.Whoami, middleware.RequireScope("integration:read"))
}
