package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/encryption"
	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/queue"
	"github.com/WIREMI/wiremi-auth/internal/repository"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

const (
	backupCodeCount = 10
	// totpSkewSteps tolerates ±2 time steps (~±60s) of clock drift between
	// the authenticator and the server.
	totpSkewSteps = 2
	totpPeriod    = 30
)

// MFAService is the sole writer of MFA state. Enrollment follows
// absent → pending → enabled → disabled; a pending secret never gates
// login, and enabling requires proving a live code first so a mistyped
// enrollment cannot lock the user out.
type MFAService struct {
	repo   repository.MFARepo
	users  repository.UserRepo
	enc    *encryption.Manager
	issuer string
	mailer Mailer
	log    *zap.Logger
	now    func() time.Time
}

func NewMFAService(repo repository.MFARepo, users repository.UserRepo, enc *encryption.Manager, issuer string, mailer Mailer, log *zap.Logger) *MFAService {
	return &MFAService{repo: repo, users: users, enc: enc, issuer: issuer, mailer: mailer, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Enrollment is returned once at enroll time. The raw secret and backup
// codes exist nowhere else; the store holds the encrypted secret and the
// backup-code hashes.
type Enrollment struct {
	Secret      string
	QRPayload   string
	BackupCodes []string
}

// Enroll generates a pending TOTP secret and a fresh backup-code set for
// the user. Rejected while MFA is already enabled; re-enrolling over a
// pending or disabled secret replaces it. The otpauth label is the account
// email so authenticator apps show something recognizable.
func (s *MFAService) Enroll(ctx context.Context, userID string) (*Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	existing, err := s.repo.GetSecret(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr(err)
	}
	if existing != nil && existing.Status == model.MFAEnabled {
		return nil, ErrMFAEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	encrypted, err := s.enc.Encrypt([]byte(key.Secret()))
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveSecret(ctx, &model.MFASecret{
		UserID:          userID,
		EncryptedSecret: encrypted,
		Status:          model.MFAPending,
	}); err != nil {
		return nil, storeErr(err)
	}

	codes, hashes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, storeErr(err)
	}

	return &Enrollment{Secret: key.Secret(), QRPayload: key.URL(), BackupCodes: codes}, nil
}

// ConfirmEnrollment verifies a live code against the pending secret and
// flips it to enabled.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	secret, err := s.getSecret(ctx, userID)
	if err != nil {
		return err
	}
	if secret.Status != model.MFAPending {
		return ErrMFANotPending
	}
	ok, err := s.validateTOTP(secret, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidMFACode
	}
	now := s.now()
	if err := s.repo.UpdateStatus(ctx, userID, model.MFAEnabled, &now); err != nil {
		return storeErr(err)
	}
	if user, err := s.users.GetByID(ctx, userID); err == nil {
		s.mailer.Send(ctx, user.Email, queue.TemplateMFAEnabled, map[string]string{
			"first_name": user.FirstName,
		})
	}
	s.log.Info("mfa enabled", zap.String("user_id", userID))
	return nil
}

// CancelEnrollment abandons a pending enrollment, returning the account to
// the no-MFA state. The only pending → absent transition.
func (s *MFAService) CancelEnrollment(ctx context.Context, userID string) error {
	secret, err := s.getSecret(ctx, userID)
	if err != nil {
		return err
	}
	if secret.Status != model.MFAPending {
		return ErrMFANotPending
	}
	if err := s.repo.DeleteSecret(ctx, userID); err != nil {
		return storeErr(err)
	}
	return nil
}

// Verify accepts a live TOTP code within the skew window or an unused
// backup code. Backup-code redemption consumes the code atomically, so a
// code spent by one request cannot succeed for a concurrent one.
func (s *MFAService) Verify(ctx context.Context, userID, code string) error {
	secret, err := s.getSecret(ctx, userID)
	if err != nil {
		return err
	}
	if secret.Status != model.MFAEnabled {
		return ErrMFANotEnabled
	}

	ok, err := s.validateTOTP(secret, code)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	consumed, err := s.repo.ConsumeBackupCode(ctx, userID, hashBackupCode(code))
	if err != nil {
		return storeErr(err)
	}
	if !consumed {
		return ErrInvalidMFACode
	}
	left, err := s.repo.CountBackupCodes(ctx, userID)
	if err == nil && left <= 2 {
		s.log.Warn("backup codes running low", zap.String("user_id", userID), zap.Int("remaining", left))
	}
	return nil
}

// Disable turns MFA off. It demands both a password re-confirmation and a
// valid current code or backup code: a bare session token is never enough
// to strip an account's second factor.
func (s *MFAService) Disable(ctx context.Context, userID, password, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return storeErr(err)
	}
	if !utils.VerifyPassword(user.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	if err := s.Verify(ctx, userID, code); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, userID, model.MFADisabled, nil); err != nil {
		return storeErr(err)
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return storeErr(err)
	}
	s.log.Info("mfa disabled", zap.String("user_id", userID))
	return nil
}

// RegenerateBackupCodes replaces the full set. Requires a live TOTP code;
// a backup code cannot mint more backup codes.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	secret, err := s.getSecret(ctx, userID)
	if err != nil {
		return nil, err
	}
	if secret.Status != model.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	ok, err := s.validateTOTP(secret, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidMFACode
	}
	codes, hashes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, storeErr(err)
	}
	return codes, nil
}

// Enabled reports whether MFA gates login for the user.
func (s *MFAService) Enabled(ctx context.Context, userID string) (bool, error) {
	secret, err := s.repo.GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storeErr(err)
	}
	return secret.Status == model.MFAEnabled, nil
}

func (s *MFAService) getSecret(ctx context.Context, userID string) (*model.MFASecret, error) {
	secret, err := s.repo.GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMFANotEnabled
		}
		return nil, storeErr(err)
	}
	return secret, nil
}

func (s *MFAService) validateTOTP(secret *model.MFASecret, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false, nil
	}
	plain, err := s.enc.Decrypt(secret.EncryptedSecret)
	if err != nil {
		return false, err
	}
	ok, err := totp.ValidateCustom(code, string(plain), s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// generateBackupCodes returns raw codes in XXXX-XXXX form and their
// hashes in matching order.
func generateBackupCodes(n int) ([]string, []string, error) {
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		raw, err := utils.SecureRandomToken(4)
		if err != nil {
			return nil, nil, err
		}
		code := strings.ToUpper(raw[:4] + "-" + raw[4:])
		codes = append(codes, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return codes, hashes, nil
}

// hashBackupCode canonicalizes (upper-case, separators stripped) before
// hashing so formatting differences at entry time do not matter.
func hashBackupCode(code string) string {
	canonical := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(code)))
	return utils.HashToken("backup:" + canonical)
}
