package main

import (
	"context"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/database"
	"github.com/WIREMI/wiremi-auth/internal/encryption"
	"github.com/WIREMI/wiremi-auth/internal/handler"
	"github.com/WIREMI/wiremi-auth/internal/logger"
	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/queue"
	"github.com/WIREMI/wiremi-auth/internal/ratelimit"
	"github.com/WIREMI/wiremi-auth/internal/repository"
	"github.com/WIREMI/wiremi-auth/internal/repository/memory"
	"github.com/WIREMI/wiremi-auth/internal/router"
	"github.com/WIREMI/wiremi-auth/internal/service"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

func main() {
	cfg := config.Load()
	rateCfg := config.LoadRateLimitConfig()
	log := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))
	defer func() { _ = log.Sync() }()

	enc, err := encryption.NewFromHex(cfg.MFAEncryptionKey)
	if err != nil {
		log.Fatal("invalid MFA_ENCRYPTION_KEY", zap.Error(err))
	}

	var (
		users     repository.UserRepo
		roles     repository.RoleRepo
		sessions  repository.SessionRepo
		devices   repository.DeviceRepo
		mfaRepo   repository.MFARepo
		apiTokens repository.APITokenRepo
	)
	if cfg.DemoMode {
		log.Info("demo mode: using in-memory store, no MySQL required")
		memUsers, memRoles := memory.NewUserRepo(), memory.NewRoleRepo()
		seedDemoData(memUsers, memRoles, cfg, log)
		users, roles = memUsers, memRoles
		sessions = memory.NewSessionRepo()
		devices = memory.NewDeviceRepo()
		mfaRepo = memory.NewMFARepo()
		apiTokens = memory.NewAPITokenRepo()
	} else {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal("mysql connect failed", zap.Error(err))
		}
		users = repository.NewUserRepo(db)
		roles = repository.NewRoleRepo(db)
		sessions = repository.NewSessionRepo(db)
		devices = repository.NewDeviceRepo(db)
		mfaRepo = repository.NewMFARepo(db)
		apiTokens = repository.NewAPITokenRepo(db)
	}

	// Redis backs the shared rate limiter and the grant cache. When it is
	// unreachable the limiter degrades to per-instance memory; it is never
	// turned off.
	rdb := config.NewRedisClient()
	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, rateCfg.Prefix)
	} else {
		log.Warn("redis unreachable, falling back to in-process rate limiter")
		limiter = ratelimit.NewMemoryLimiter()
	}
	grants := service.NewGrantCache(rdb, cfg.PermCacheTTL, log)

	var mailer service.Mailer
	if cfg.DemoMode {
		mailer = service.NewLogMailer(log)
	} else {
		mailer = service.NewQueueMailer(log)
		go func() {
			if err := queue.StartEmailConsumer(log); err != nil {
				log.Warn("email consumer stopped", zap.Error(err))
			}
		}()
	}

	sessionSvc := service.NewSessionService(sessions, cfg.RefreshTTL, cfg.MaxSessionsPerUser, log)
	deviceSvc := service.NewDeviceService(devices, sessions, cfg.MaxTrustedDevices, log)
	mfaSvc := service.NewMFAService(mfaRepo, users, enc, cfg.MFAIssuer, mailer, log)
	tokenSvc := service.NewAPITokenService(apiTokens, log)
	challenges := service.NewChallengeRegistry(rdb, log)
	authSvc := service.NewAuthService(cfg, users, roles, sessionSvc, deviceSvc, mfaSvc, grants, challenges, mailer, log)

	sessionSvc.StartSweep(context.Background(), cfg.SweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.Register(e, router.Deps{
		Cfg:       cfg,
		RateCfg:   rateCfg,
		Limiter:   limiter,
		Auth:      handler.NewAuthHandler(cfg, authSvc),
		MFA:       handler.NewMFAHandler(mfaSvc),
		Devices:   handler.NewDeviceHandler(deviceSvc, sessionSvc),
		Admin:     handler.NewAdminHandler(authSvc, tokenSvc),
		APITokens: tokenSvc,
	})

	addr := ":" + cfg.Port
	log.Info("starting server", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// seedDemoData bootstraps a super-admin account and the default roles so
// the demo server is usable immediately. Credentials come from the
// environment with local-only defaults.
func seedDemoData(users *memory.UserRepo, roles *memory.RoleRepo, cfg config.Config, log *zap.Logger) {
	roles.Seed(model.Role{ID: "role-super-admin", Name: "SUPER_ADMIN", Permissions: []string{
		"admin:onboard", "admin:unlock", "admin:tokens",
		"user:read", "user:write", "transaction:approve",
	}})
	roles.Seed(model.Role{ID: "role-support", Name: "SUPPORT", Permissions: []string{"user:read"}})

	email := os.Getenv("DEMO_ADMIN_EMAIL")
	if email == "" {
		email = "admin@wiremi.local"
	}
	password := os.Getenv("DEMO_ADMIN_PASSWORD")
	if password == "" {
		password = "ChangeMe123"
	}
	hash, err := utils.HashPassword(password, cfg.BcryptCost)
	if err != nil {
		log.Fatal("failed to hash demo admin password", zap.Error(err))
	}

	ctx := context.Background()
	admin := &model.User{ID: "demo-admin", Email: email, PasswordHash: hash,
		FirstName: "Demo", LastName: "Admin", IsActive: true}
	if err := users.Create(ctx, admin); err != nil {
		log.Fatal("failed to seed demo admin", zap.Error(err))
	}
	if err := roles.Assign(ctx, admin.ID, "role-super-admin", "system"); err != nil {
		log.Fatal("failed to assign demo admin role", zap.Error(err))
	}
	log.Info("seeded demo admin", zap.String("email", email))
}
