package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/encryption"
	"github.com/WIREMI/wiremi-auth/internal/handler"
	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/ratelimit"
	"github.com/WIREMI/wiremi-auth/internal/repository/memory"
	"github.com/WIREMI/wiremi-auth/internal/service"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

const testEncKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type testServer struct {
	e    *echo.Echo
	cfg  config.Config
	mfa  *service.MFAService
	auth *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		JWTSecret:          "test-secret",
		JWTIssuer:          "wiremi-auth",
		JWTAudience:        "wiremi-crm",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         time.Hour,
		MFAChallengeTTL:    5 * time.Minute,
		EmailVerifyTTL:     time.Hour,
		BcryptCost:         4,
		LockoutThreshold:   5,
		LockoutDuration:    15 * time.Minute,
		MaxSessionsPerUser: 5,
		MaxTrustedDevices:  5,
		MFAIssuer:          "Wiremi CRM",
	}
	rateCfg := config.RateLimitConfig{
		Enabled: true,
		Prefix:  "rl",
		Login: config.RateLimitClass{Name: "login", Limit: 3, Window: time.Minute,
			FailuresOnly: true, ByEmail: true},
		MFA:      config.RateLimitClass{Name: "mfa", Limit: 10, Window: time.Minute},
		Refresh:  config.RateLimitClass{Name: "refresh", Limit: 30, Window: time.Minute},
		Register: config.RateLimitClass{Name: "register", Limit: 10, Window: time.Minute, ByEmail: true},
	}
	log := zap.NewNop()
	enc, err := encryption.NewFromHex(testEncKey)
	if err != nil {
		t.Fatalf("encryption manager: %v", err)
	}

	users := memory.NewUserRepo()
	roles := memory.NewRoleRepo()
	sessionRepo := memory.NewSessionRepo()
	sessions := service.NewSessionService(sessionRepo, cfg.RefreshTTL, cfg.MaxSessionsPerUser, log)
	devices := service.NewDeviceService(memory.NewDeviceRepo(), sessionRepo, cfg.MaxTrustedDevices, log)
	mfa := service.NewMFAService(memory.NewMFARepo(), users, enc, cfg.MFAIssuer, service.NewLogMailer(log), log)
	tokens := service.NewAPITokenService(memory.NewAPITokenRepo(), log)
	auth := service.NewAuthService(cfg, users, roles, sessions, devices, mfa, nil,
		service.NewChallengeRegistry(nil, log), service.NewLogMailer(log), log)

	roles.Seed(model.Role{ID: "r-admin", Name: "SUPER_ADMIN",
		Permissions: []string{"admin:onboard", "admin:unlock", "admin:tokens"}})
	roles.Seed(model.Role{ID: "r-support", Name: "SUPPORT", Permissions: []string{"user:read"}})

	ctx := context.Background()
	seed := func(id, email, roleID string) {
		hash, err := utils.HashPassword("Passw0rdX", cfg.BcryptCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		u := &model.User{ID: id, Email: email, PasswordHash: hash,
			FirstName: "Test", LastName: "User", IsActive: true}
		if err := users.Create(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
		if roleID != "" {
			if err := roles.Assign(ctx, id, roleID, "system"); err != nil {
				t.Fatalf("assign role: %v", err)
			}
		}
	}
	seed("admin-1", "admin@wiremi.com", "r-admin")
	seed("support-1", "support@wiremi.com", "r-support")

	e := echo.New()
	Register(e, Deps{
		Cfg:       cfg,
		RateCfg:   rateCfg,
		Limiter:   ratelimit.NewMemoryLimiter(),
		Auth:      handler.NewAuthHandler(cfg, auth),
		MFA:       handler.NewMFAHandler(mfa),
		Devices:   handler.NewDeviceHandler(devices, sessions),
		Admin:     handler.NewAdminHandler(auth, tokens),
		APITokens: tokens,
	})
	return &testServer{e: e, cfg: cfg, mfa: mfa, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (s *testServer) login(t *testing.T, email, password string) map[string]any {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/v1/auth/login", "",
		map[string]any{"email": email, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	return body
}

func accessToken(t *testing.T, body map[string]any) string {
	t.Helper()
	access, ok := body["access"].(map[string]any)
	if !ok {
		t.Fatalf("no access token in response: %v", body)
	}
	return access["token"].(string)
}

func refreshToken(t *testing.T, body map[string]any) string {
	t.Helper()
	refresh, ok := body["refresh"].(map[string]any)
	if !ok {
		t.Fatalf("no refresh token in response: %v", body)
	}
	return refresh["token"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	body := s.login(t, "support@wiremi.com", "Passw0rdX")
	token := accessToken(t, body)

	rec, me := s.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	if me["user_id"] != "support-1" {
		t.Fatalf("unexpected identity: %v", me)
	}

	rec, _ = s.do(t, http.MethodGet, "/v1/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me: expected 401, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodGet, "/v1/auth/me", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token me: expected 401, got %d", rec.Code)
	}
}

func TestLoginFailureStatusAndRateLimit(t *testing.T) {
	s := newTestServer(t)

	// The login class allows 3 failures per window for this (ip, email) key.
	for i := 0; i < 3; i++ {
		rec, _ := s.do(t, http.MethodPost, "/v1/auth/login", "",
			map[string]any{"email": "support@wiremi.com", "password": "wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec, body := s.do(t, http.MethodPost, "/v1/auth/login", "",
		map[string]any{"email": "support@wiremi.com", "password": "wrong"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if _, ok := body["retry_after"]; !ok {
		t.Fatalf("429 body must carry retry_after: %v", body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry a Retry-After header")
	}

	// A different account's budget is untouched.
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/login", "",
		map[string]any{"email": "admin@wiremi.com", "password": "Passw0rdX"})
	if rec.Code != http.StatusOK {
		t.Fatalf("other account should not be throttled, got %d", rec.Code)
	}
}

func TestSuccessfulLoginRefundsBudget(t *testing.T) {
	s := newTestServer(t)

	// Successful logins are refunded, so far more than the failure budget
	// passes within one window.
	for i := 0; i < 6; i++ {
		rec, _ := s.do(t, http.MethodPost, "/v1/auth/login", "",
			map[string]any{"email": "support@wiremi.com", "password": "Passw0rdX"})
		if rec.Code != http.StatusOK {
			t.Fatalf("login %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	body := s.login(t, "support@wiremi.com", "Passw0rdX")
	oldToken := refreshToken(t, body)

	rec, rotated := s.do(t, http.MethodPost, "/v1/auth/refresh", "",
		map[string]any{"refresh_token": oldToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	if refreshToken(t, rotated) == oldToken {
		t.Fatal("refresh token must rotate")
	}

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "",
		map[string]any{"refresh_token": oldToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: expected 401, got %d", rec.Code)
	}
}

func TestMFAFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// Enroll and confirm through the API.
	token := accessToken(t, s.login(t, "support@wiremi.com", "Passw0rdX"))
	rec, enrollment := s.do(t, http.MethodPost, "/v1/auth/mfa/enroll", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll: status %d body %s", rec.Code, rec.Body.String())
	}
	secret := enrollment["secret"].(string)
	codes := enrollment["backup_codes"].([]any)
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/mfa/confirm", token, map[string]any{"code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body %s", rec.Code, rec.Body.String())
	}

	// Login is now challenged.
	rec, challenged := s.do(t, http.MethodPost, "/v1/auth/login", "",
		map[string]any{"email": "support@wiremi.com", "password": "Passw0rdX"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	if challenged["mfa_required"] != true {
		t.Fatalf("expected mfa_required, got %v", challenged)
	}
	if _, ok := challenged["access"]; ok {
		t.Fatal("no access token may be issued before the second factor")
	}
	mfaToken := challenged["mfa_token"].(string)

	// Wrong code is rejected.
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/verify-mfa", "",
		map[string]any{"mfa_token": mfaToken, "code": "000000"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad code: expected 401, got %d", rec.Code)
	}

	// The right code completes the login; a backup code works too.
	code, err = totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	rec, final := s.do(t, http.MethodPost, "/v1/auth/verify-mfa", "",
		map[string]any{"mfa_token": mfaToken, "code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-mfa: status %d body %s", rec.Code, rec.Body.String())
	}
	if accessToken(t, final) == "" {
		t.Fatal("expected access token after second factor")
	}

	challenged2 := s.login(t, "support@wiremi.com", "Passw0rdX")
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/verify-mfa", "",
		map[string]any{"mfa_token": challenged2["mfa_token"], "code": codes[0]})
	if rec.Code != http.StatusOK {
		t.Fatalf("backup code verify-mfa: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutesArePermissionGated(t *testing.T) {
	s := newTestServer(t)
	supportToken := accessToken(t, s.login(t, "support@wiremi.com", "Passw0rdX"))
	adminToken := accessToken(t, s.login(t, "admin@wiremi.com", "Passw0rdX"))

	payload := map[string]any{
		"email": "new.admin@wiremi.com", "first_name": "New", "last_name": "Admin",
		"password": "Passw0rdX", "role": "SUPPORT"}

	rec, _ := s.do(t, http.MethodPost, "/v1/admin/onboard", supportToken, payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("support onboard: expected 403, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/onboard", "", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous onboard: expected 401, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/onboard", adminToken, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin onboard: expected 201, got %d body %s", rec.Code, rec.Body.String())
	}
	// Duplicate email conflicts.
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/onboard", adminToken, payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate onboard: expected 409, got %d", rec.Code)
	}
}

func TestAPITokenFlow(t *testing.T) {
	s := newTestServer(t)
	adminToken := accessToken(t, s.login(t, "admin@wiremi.com", "Passw0rdX"))

	rec, minted := s.do(t, http.MethodPost, "/v1/admin/api-tokens", adminToken,
		map[string]any{"name": "reporting", "scopes": []string{"reports:read"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint: status %d body %s", rec.Code, rec.Body.String())
	}
	rawReports := minted["token"].(string)

	rec, minted = s.do(t, http.MethodPost, "/v1/admin/api-tokens", adminToken,
		map[string]any{"name": "integration", "scopes": []string{"integration:read"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint: status %d body %s", rec.Code, rec.Body.String())
	}
	rawIntegration := minted["token"].(string)
	tokenID := minted["api_token"].(map[string]any)["id"].(string)

	whoami := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/integrations/whoami", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := whoami(rawIntegration); code != http.StatusOK {
		t.Fatalf("whoami with integration scope: expected 200, got %d", code)
	}
	if code := whoami(rawReports); code != http.StatusForbidden {
		t.Fatalf("whoami with wrong scope: expected 403, got %d", code)
	}
	if code := whoami("wak_bogus"); code != http.StatusUnauthorized {
		t.Fatalf("whoami with bogus key: expected 401, got %d", code)
	}
	if code := whoami(""); code != http.StatusUnauthorized {
		t.Fatalf("whoami without key: expected 401, got %d", code)
	}

	// Revoked tokens stop working.
	rec, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/v1/admin/api-tokens/%s", tokenID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status %d", rec.Code)
	}
	if code := whoami(rawIntegration); code != http.StatusUnauthorized {
		t.Fatalf("revoked key: expected 401, got %d", code)
	}
}

func TestLockedAccountAnswers423(t *testing.T) {
	s := newTestServer(t)

	// Burn the lockout threshold with wrong passwords; the login rate class
	// allows only 3 failures, so exercise lockout through the service and
	// check the HTTP mapping with the correct password.
	ctx := context.Background()
	for i := 0; i < s.cfg.LockoutThreshold; i++ {
		_, _ = s.auth.Login(ctx, service.LoginInput{Email: "support@wiremi.com", Password: "wrong"})
	}

	rec, _ := s.do(t, http.MethodPost, "/v1/auth/login", "",
		map[string]any{"email": "support@wiremi.com", "password": "Passw0rdX"})
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d", rec.Code)
	}
}

func TestDeviceAndSessionEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "support@wiremi.com", "password": "Passw0rdX",
		"fingerprint": "fp-browser", "remember_device": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	token := accessToken(t, body)

	rec, devList := s.do(t, http.MethodGet, "/v1/auth/devices", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("devices: status %d", rec.Code)
	}
	devices := devList["devices"].([]any)
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	dev := devices[0].(map[string]any)
	if dev["is_trusted"] != true {
		t.Fatalf("device should be trusted: %v", dev)
	}

	rec, sessList := s.do(t, http.MethodGet, "/v1/auth/sessions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: status %d", rec.Code)
	}
	sessions := sessList["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].(map[string]any)["current"] != true {
		t.Fatal("the only session should be the current one")
	}

	// Revoking the device kills its session.
	rec, _ = s.do(t, http.MethodDelete, "/v1/auth/devices/"+dev["id"].(string), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke device: status %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "",
		map[string]any{"refresh_token": refreshToken(t, body)})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after device revoke: expected 401, got %d", rec.Code)
	}
}
