package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/WIREMI/wiremi-auth/internal/queue"
)

func enrollAndConfirm(t *testing.T, env *testEnv, userID string) (secret string, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.mfa.Enroll(ctx, userID)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := env.mfa.ConfirmEnrollment(ctx, userID, code); err != nil {
		t.Fatalf("ConfirmEnrollment failed: %v", err)
	}
	return enrollment.Secret, enrollment.BackupCodes
}

func TestEnrollmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)

	// Pending enrollment does not gate login.
	enrollment, err := env.mfa.Enroll(ctx, "u1")
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if len(enrollment.BackupCodes) != backupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", backupCodeCount, len(enrollment.BackupCodes))
	}
	// The otpauth label is the account email, not an opaque ID.
	if !strings.Contains(enrollment.QRPayload, "ada@wiremi.com") {
		t.Fatalf("QR payload should label the account email: %s", enrollment.QRPayload)
	}
	if enabled, _ := env.mfa.Enabled(ctx, "u1"); enabled {
		t.Fatal("pending enrollment must not count as enabled")
	}
	res, err := env.auth.Login(ctx, LoginInput{Email: "ada@wiremi.com", Password: "Passw0rdX"})
	if err != nil || res.RequiresMFA {
		t.Fatalf("pending enrollment must not gate login: res=%+v err=%v", res, err)
	}

	// Wrong code cannot confirm.
	if err := env.mfa.ConfirmEnrollment(ctx, "u1", "000000"); err != ErrInvalidMFACode {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := env.mfa.ConfirmEnrollment(ctx, "u1", code); err != nil {
		t.Fatalf("ConfirmEnrollment failed: %v", err)
	}
	if enabled, _ := env.mfa.Enabled(ctx, "u1"); !enabled {
		t.Fatal("expected MFA enabled after confirmation")
	}

	// Re-enrolling over an enabled factor is rejected.
	if _, err := env.mfa.Enroll(ctx, "u1"); err != ErrMFAEnabled {
		t.Fatalf("expected ErrMFAEnabled, got %v", err)
	}
}

func TestConfirmEnrollmentSendsNotification(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	enrollAndConfirm(t, env, "u1")

	mail := env.mailer.lastWithTemplate(queue.TemplateMFAEnabled)
	if mail == nil {
		t.Fatal("enabling MFA must request an mfa_enabled email")
	}
	if mail.To != "ada@wiremi.com" {
		t.Fatalf("notification sent to %s", mail.To)
	}
}

func TestCancelEnrollmentOnlyWhilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)

	if err := env.mfa.CancelEnrollment(ctx, "u1"); err != ErrMFANotEnabled {
		t.Fatalf("no enrollment: expected ErrMFANotEnabled, got %v", err)
	}
	if _, err := env.mfa.Enroll(ctx, "u1"); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if err := env.mfa.CancelEnrollment(ctx, "u1"); err != nil {
		t.Fatalf("CancelEnrollment failed: %v", err)
	}
	if enabled, _ := env.mfa.Enabled(ctx, "u1"); enabled {
		t.Fatal("cancelled enrollment must leave MFA absent")
	}

	enrollAndConfirm(t, env, "u1")
	if err := env.mfa.CancelEnrollment(ctx, "u1"); err != ErrMFANotPending {
		t.Fatalf("enabled factor: expected ErrMFANotPending, got %v", err)
	}
}

func TestMFALoginEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	secret, _ := enrollAndConfirm(t, env, "u1")

	res, err := env.auth.Login(ctx, LoginInput{Email: "ada@wiremi.com", Password: "Passw0rdX"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.RequiresMFA {
		t.Fatal("enabled MFA must gate login")
	}
	if res.AccessToken.Token != "" || res.RefreshToken.Raw != "" {
		t.Fatal("no tokens may be issued before the second factor")
	}

	// Wrong code fails, challenge remains usable.
	if _, err := env.auth.VerifyMFA(ctx, res.MFAToken, "000000", "", false); err != ErrInvalidMFACode {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	final, err := env.auth.VerifyMFA(ctx, res.MFAToken, code, "", false)
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if final.AccessToken.Token == "" || final.RefreshToken.Raw == "" {
		t.Fatal("expected tokens after second factor")
	}

	// A garbage challenge token never authenticates.
	if _, err := env.auth.VerifyMFA(ctx, "garbage", code, "", false); err != ErrInvalidMFAToken {
		t.Fatalf("expected ErrInvalidMFAToken, got %v", err)
	}
}

func TestChallengeTokenCompletesOneLoginOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	secret, _ := enrollAndConfirm(t, env, "u1")

	res, err := env.auth.Login(ctx, LoginInput{Email: "ada@wiremi.com", Password: "Passw0rdX"})
	if err != nil || !res.RequiresMFA {
		t.Fatalf("expected MFA challenge: res=%+v err=%v", res, err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if _, err := env.auth.VerifyMFA(ctx, res.MFAToken, code, "", false); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}

	// The redeemed challenge is spent, even with another valid code.
	code2, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if _, err := env.auth.VerifyMFA(ctx, res.MFAToken, code2, "", false); err != ErrInvalidMFAToken {
		t.Fatalf("spent challenge: expected ErrInvalidMFAToken, got %v", err)
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	secret, _ := enrollAndConfirm(t, env, "u1")

	// A code from one step back still validates inside the skew window.
	past, err := totp.GenerateCode(secret, time.Now().Add(-totpPeriod*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := env.mfa.Verify(ctx, "u1", past); err != nil {
		t.Fatalf("code one step back should verify: %v", err)
	}

	// A code far outside the window does not.
	stale, err := totp.GenerateCode(secret, time.Now().Add(-10*totpPeriod*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := env.mfa.Verify(ctx, "u1", stale); err != ErrInvalidMFACode {
		t.Fatalf("stale code: expected ErrInvalidMFACode, got %v", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	_, codes := enrollAndConfirm(t, env, "u1")

	if err := env.mfa.Verify(ctx, "u1", codes[0]); err != nil {
		t.Fatalf("backup code should verify: %v", err)
	}
	if err := env.mfa.Verify(ctx, "u1", codes[0]); err != ErrInvalidMFACode {
		t.Fatalf("spent code replay: expected ErrInvalidMFACode, got %v", err)
	}
}

func TestBackupCodeConcurrentDoubleSpend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	_, codes := enrollAndConfirm(t, env, "u1")

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- env.mfa.Verify(ctx, "u1", codes[1])
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if err != ErrInvalidMFACode {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one concurrent redemption may win, got %d", wins)
	}
}

func TestDisableRequiresPasswordAndCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	secret, _ := enrollAndConfirm(t, env, "u1")

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := env.mfa.Disable(ctx, "u1", "wrong", code); err != ErrInvalidCredentials {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.mfa.Disable(ctx, "u1", "Passw0rdX", "000000"); err != ErrInvalidMFACode {
		t.Fatalf("wrong code: expected ErrInvalidMFACode, got %v", err)
	}
	if err := env.mfa.Disable(ctx, "u1", "Passw0rdX", code); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if enabled, _ := env.mfa.Enabled(ctx, "u1"); enabled {
		t.Fatal("MFA should be disabled")
	}
	// Login no longer gated.
	res, err := env.auth.Login(ctx, LoginInput{Email: "ada@wiremi.com", Password: "Passw0rdX"})
	if err != nil || res.RequiresMFA {
		t.Fatalf("disabled MFA must not gate login: res=%+v err=%v", res, err)
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	secret, oldCodes := enrollAndConfirm(t, env, "u1")

	// A backup code cannot mint more backup codes.
	if _, err := env.mfa.RegenerateBackupCodes(ctx, "u1", oldCodes[0]); err != ErrInvalidMFACode {
		t.Fatalf("backup code: expected ErrInvalidMFACode, got %v", err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	newCodes, err := env.mfa.RegenerateBackupCodes(ctx, "u1", code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(newCodes) != backupCodeCount {
		t.Fatalf("expected %d codes, got %d", backupCodeCount, len(newCodes))
	}

	if err := env.mfa.Verify(ctx, "u1", oldCodes[3]); err != ErrInvalidMFACode {
		t.Fatalf("old code after regeneration: expected ErrInvalidMFACode, got %v", err)
	}
	if err := env.mfa.Verify(ctx, "u1", newCodes[0]); err != nil {
		t.Fatalf("new code should verify: %v", err)
	}
}

func TestBackupCodeCanonicalization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "ada@wiremi.com", "Passw0rdX", true)
	_, codes := enrollAndConfirm(t, env, "u1")

	// Lower-case entry without the separator still redeems.
	loose := " " + string([]byte{codes[0][0] | 0x20}) + codes[0][1:4] + codes[0][5:] + " "
	if err := env.mfa.Verify(ctx, "u1", loose); err != nil {
		t.Fatalf("canonicalized entry should verify: %v", err)
	}
}
