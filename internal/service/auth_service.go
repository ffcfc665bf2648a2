package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/model"
	"github.com/WIREMI/wiremi-auth/internal/queue"
	"github.com/WIREMI/wiremi-auth/internal/repository"
	"github.com/WIREMI/wiremi-auth/internal/utils"
)

// dummyHash burns a bcrypt comparison when the email does not resolve, so
// an unknown email and a wrong password take comparable time.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthService composes the credential check, lockout state machine, MFA
// gate, device recognition and token issuance into the login, refresh and
// onboarding flows. It is the sole writer of Account lockout fields and
// the only component that mints token pairs.
type AuthService struct {
	cfg        config.Config
	users      repository.UserRepo
	roles      repository.RoleRepo
	sessions   *SessionService
	devices    *DeviceService
	mfa        *MFAService
	grants     *GrantCache
	challenges *ChallengeRegistry
	mailer     Mailer
	log        *zap.Logger
	now        func() time.Time
}

func NewAuthService(
	cfg config.Config,
	users repository.UserRepo,
	roles repository.RoleRepo,
	sessions *SessionService,
	devices *DeviceService,
	mfa *MFAService,
	grants *GrantCache,
	challenges *ChallengeRegistry,
	mailer Mailer,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		cfg:        cfg,
		users:      users,
		roles:      roles,
		sessions:   sessions,
		devices:    devices,
		mfa:        mfa,
		grants:     grants,
		challenges: challenges,
		mailer:     mailer,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LoginInput carries one credential submission.
type LoginInput struct {
	Email          string
	Password       string
	Fingerprint    string
	RememberDevice bool
}

// LoginResult is the outcome of a successful login, MFA verification or
// refresh. When RequiresMFA is set only MFAToken is populated: no access
// or refresh token exists until the second factor is proven.
type LoginResult struct {
	User         *model.User
	Roles        []string
	Permissions  []string
	AccessToken  utils.AccessToken
	RefreshToken utils.RefreshToken
	SessionID    string
	RequiresMFA  bool
	MFAToken     string
}

// Login runs the credential state machine. Unknown email and wrong
// password are indistinguishable; lockout applies before the password is
// checked so a locked account leaks nothing about the password's
// correctness.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.VerifyPassword(dummyHash, in.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	if user.IsLocked {
		if user.LockedUntil != nil && s.now().Before(*user.LockedUntil) {
			return nil, ErrAccountLocked
		}
		// Lockout window elapsed; clear state before counting this attempt.
		if err := s.users.ResetLockout(ctx, user.ID); err != nil {
			return nil, storeErr(err)
		}
		user.IsLocked = false
		user.LockoutCount = 0
	}

	if !utils.VerifyPassword(user.PasswordHash, in.Password) {
		s.recordFailedAttempt(ctx, user)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if user.LockoutCount > 0 {
		if err := s.users.ResetLockout(ctx, user.ID); err != nil {
			s.log.Warn("failed to reset lockout count after successful login",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	mfaEnabled, err := s.mfa.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if mfaEnabled {
		challenge, err := utils.NewMFAChallengeToken(
			s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience, user.ID, s.cfg.MFAChallengeTTL)
		if err != nil {
			return nil, err
		}
		return &LoginResult{User: user, RequiresMFA: true, MFAToken: challenge}, nil
	}

	return s.issueTokens(ctx, user, in.Fingerprint, in.RememberDevice)
}

// recordFailedAttempt is the write side of the lockout state machine. The
// increment is atomic at the repository so two concurrent bad attempts
// cannot under-count.
func (s *AuthService) recordFailedAttempt(ctx context.Context, user *model.User) {
	count, err := s.users.IncrementLockout(ctx, user.ID)
	if err != nil {
		s.log.Warn("failed to record failed login attempt",
			zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if count >= s.cfg.LockoutThreshold {
		until := s.now().Add(s.cfg.LockoutDuration)
		if err := s.users.Lock(ctx, user.ID, until); err != nil {
			s.log.Warn("failed to lock account", zap.String("user_id", user.ID), zap.Error(err))
			return
		}
		s.log.Warn("account locked after repeated failed logins",
			zap.String("user_id", user.ID), zap.Int("attempts", count), zap.Time("until", until))
	}
}

// VerifyMFA completes a login whose password step succeeded. The challenge
// token scopes the attempt; the code may be a live TOTP or a backup code.
// A challenge completes at most one login: a wrong code leaves it usable,
// a successful redemption consumes it.
func (s *AuthService) VerifyMFA(ctx context.Context, mfaToken, code, fingerprint string, remember bool) (*LoginResult, error) {
	userID, challengeID, err := utils.VerifyMFAChallengeToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience, mfaToken)
	if err != nil {
		return nil, ErrInvalidMFAToken
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidMFAToken
		}
		return nil, storeErr(err)
	}
	// The account can have been locked or deactivated since the challenge
	// was issued.
	if user.IsLocked && user.LockedUntil != nil && s.now().Before(*user.LockedUntil) {
		return nil, ErrAccountLocked
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if err := s.mfa.Verify(ctx, userID, code); err != nil {
		return nil, err
	}
	if !s.challenges.Consume(ctx, challengeID, s.cfg.MFAChallengeTTL) {
		return nil, ErrInvalidMFAToken
	}
	return s.issueTokens(ctx, user, fingerprint, remember)
}

// Refresh redeems and rotates a refresh token, reloading grants from the
// store so role revocations take effect now rather than at access-token
// expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	sess, err := s.sessions.Redeem(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeErr(err)
	}
	if user.IsLocked && user.LockedUntil != nil && s.now().Before(*user.LockedUntil) {
		return nil, ErrAccountLocked
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	newToken, err := s.sessions.Rotate(ctx, sess)
	if err != nil {
		return nil, err
	}

	grants, err := s.loadGrants(ctx, user.ID, true)
	if err != nil {
		return nil, err
	}
	access, err := utils.NewAccessToken(
		s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience,
		user.ID, sess.ID, grants.Roles, grants.Permissions, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		User:         user,
		Roles:        grants.Roles,
		Permissions:  grants.Permissions,
		AccessToken:  access,
		RefreshToken: newToken,
		SessionID:    sess.ID,
	}, nil
}

// Logout invalidates the session owning the given refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	sess, err := s.sessions.Redeem(ctx, refreshToken)
	if err != nil {
		return err
	}
	return s.sessions.Invalidate(ctx, sess.ID)
}

// LogoutAll ends every session of the user except, optionally, the one
// making the request.
func (s *AuthService) LogoutAll(ctx context.Context, userID, exceptSessionID string) error {
	return s.sessions.InvalidateAll(ctx, userID, exceptSessionID)
}

// RegisterInput carries a self-service registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an inactive account and requests a verification email.
// The account cannot log in until the email round-trip completes.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     false,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, storeErr(err)
	}

	token, err := utils.NewEmailVerifyToken(
		s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience, user.ID, s.cfg.EmailVerifyTTL)
	if err != nil {
		s.log.Warn("failed to mint email verification token", zap.Error(err))
	} else {
		s.mailer.Send(ctx, user.Email, queue.TemplateVerifyEmail, map[string]string{
			"first_name": user.FirstName,
			"token":      token,
		})
	}
	s.log.Info("account registered", zap.String("user_id", user.ID))
	return user, nil
}

// VerifyEmail activates the account named by a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	userID, err := utils.VerifyEmailVerifyToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience, token)
	if err != nil {
		return ErrInvalidToken
	}
	if err := s.users.MarkEmailVerified(ctx, userID, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return storeErr(err)
	}
	return nil
}

// OnboardAdminInput carries the administrative onboarding path.
type OnboardAdminInput struct {
	Email            string
	FirstName        string
	LastName         string
	Password         string
	Role             string
	SendWelcomeEmail bool
	AssignedBy       string
}

// OnboardAdmin creates a pre-verified account with a role attached. An
// existing email is rejected, never overwritten.
func (s *AuthService) OnboardAdmin(ctx context.Context, in OnboardAdminInput) (*model.User, error) {
	role, err := s.roles.GetByName(ctx, in.Role)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, storeErr(err)
	}

	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &model.User{
		ID:              uuid.NewString(),
		Email:           strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash:    hash,
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		IsActive:        true,
		EmailVerifiedAt: &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, storeErr(err)
	}
	if err := s.roles.Assign(ctx, user.ID, role.ID, in.AssignedBy); err != nil {
		return nil, storeErr(err)
	}
	s.grants.Invalidate(ctx, user.ID)

	if in.SendWelcomeEmail {
		s.mailer.Send(ctx, user.Email, queue.TemplateAdminWelcome, map[string]string{
			"first_name": user.FirstName,
			"role":       role.Name,
		})
	}
	s.log.Info("admin onboarded",
		zap.String("user_id", user.ID), zap.String("role", role.Name), zap.String("assigned_by", in.AssignedBy))
	return user, nil
}

// ChangePassword re-proves the current password, stores the new hash and
// revokes every other session.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return storeErr(err)
	}
	if !utils.VerifyPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	hash, err := utils.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return storeErr(err)
	}
	if err := s.sessions.InvalidateAll(ctx, userID, keepSessionID); err != nil {
		s.log.Warn("failed to revoke sessions after password change",
			zap.String("user_id", userID), zap.Error(err))
	}
	s.mailer.Send(ctx, user.Email, queue.TemplatePasswordChanged, map[string]string{
		"first_name": user.FirstName,
	})
	return nil
}

// UnlockAccount is the administrative reset of the lockout state machine.
func (s *AuthService) UnlockAccount(ctx context.Context, userID string) error {
	if err := s.users.ResetLockout(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return storeErr(err)
	}
	s.log.Info("account unlocked by administrator", zap.String("user_id", userID))
	return nil
}

// issueTokens is step 7 of the login flow: recognize the device, open a
// session and mint the token pair.
func (s *AuthService) issueTokens(ctx context.Context, user *model.User, fingerprint string, remember bool) (*LoginResult, error) {
	device, err := s.devices.Recognize(ctx, user.ID, fingerprint, remember)
	if err != nil {
		return nil, err
	}
	sess, refresh, err := s.sessions.Create(ctx, user.ID, device.ID)
	if err != nil {
		return nil, err
	}
	grants, err := s.loadGrants(ctx, user.ID, false)
	if err != nil {
		return nil, err
	}
	access, err := utils.NewAccessToken(
		s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience,
		user.ID, sess.ID, grants.Roles, grants.Permissions, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		s.log.Warn("failed to touch last_login_at", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &LoginResult{
		User:         user,
		Roles:        grants.Roles,
		Permissions:  grants.Permissions,
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.ID,
	}, nil
}

// loadGrants resolves the user's roles and the union of their permission
// strings. fresh forces a store read; refresh uses it so revocations are
// picked up no later than the next rotation.
func (s *AuthService) loadGrants(ctx context.Context, userID string, fresh bool) (Grants, error) {
	if !fresh {
		if cached, ok := s.grants.Get(ctx, userID); ok {
			return *cached, nil
		}
	}
	roles, err := s.roles.RolesForUser(ctx, userID)
	if err != nil {
		return Grants{}, storeErr(err)
	}

	names := make([]string, 0, len(roles))
	permSet := map[string]bool{}
	for _, r := range roles {
		names = append(names, r.Name)
		for _, p := range r.Permissions {
			permSet[p] = true
		}
	}
	perms := make([]string, 0, len(permSet))
	for p := range permSet {
		perms = append(perms, p)
	}
	sort.Strings(names)
	sort.Strings(perms)

	g := Grants{Roles: names, Permissions: perms}
	s.grants.Set(ctx, userID, g)
	return g, nil
}
