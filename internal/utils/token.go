// Package utils provides the security primitives of the auth core: password
// hashing, token minting and verification, secure randomness, one-way token
// hashing and constant-time comparison.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type claims. Signed tokens carry a "typ" claim so an MFA challenge
// can never be replayed as an access token and vice versa.
const (
	TokenTypeAccess      = "access"
	TokenTypeMFA         = "mfa"
	TokenTypeEmailVerify = "email_verify"
)

// ErrInvalidToken covers every verification failure: bad signature, wrong
// algorithm, wrong issuer or audience, expiry, or a "typ" mismatch. Callers
// must not be able to tell which check failed.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken is a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken is the raw opaque refresh token returned to the client. Only
// its SHA-256 hash is ever persisted. Opaque by design: compromise of the
// signing secret cannot mint refresh tokens.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// AccessClaims is the verified payload of an access token.
type AccessClaims struct {
	UserID      string
	SessionID   string
	Roles       []string
	Permissions []string
}

// NewAccessToken builds and signs a short-lived HS256 access JWT carrying
// the user's identity and current grants.
func NewAccessToken(secret, issuer, audience, userID, sessionID string, roles, perms []string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   userID,
		"sid":   sessionID,
		"roles": roles,
		"perms": perms,
		"typ":   TokenTypeAccess,
		"iss":   issuer,
		"aud":   audience,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// HasPermission reports whether the claims carry the given permission.
func (c *AccessClaims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// VerifyAccessToken validates signature, algorithm, issuer, audience,
// expiry and token type, returning the embedded claims.
func VerifyAccessToken(secret, issuer, audience, raw string) (*AccessClaims, error) {
	claims, err := parseSigned(secret, issuer, audience, raw, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	sid, _ := claims["sid"].(string)
	return &AccessClaims{
		UserID:      sub,
		SessionID:   sid,
		Roles:       stringSlice(claims["roles"]),
		Permissions: stringSlice(claims["perms"]),
	}, nil
}

// NewMFAChallengeToken signs a very short-lived token that proves the
// password step of one login attempt succeeded. It grants nothing else.
func NewMFAChallengeToken(secret, issuer, audience, userID string, ttl time.Duration) (string, error) {
	return newScopedToken(secret, issuer, audience, userID, TokenTypeMFA, ttl)
}

// VerifyMFAChallengeToken resolves an MFA challenge token to its user ID
// and challenge ID. The challenge ID lets the caller enforce one redemption
// per challenge.
func VerifyMFAChallengeToken(secret, issuer, audience, raw string) (userID, challengeID string, err error) {
	claims, err := parseSigned(secret, issuer, audience, raw, TokenTypeMFA)
	if err != nil {
		return "", "", err
	}
	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	if sub == "" || jti == "" {
		return "", "", ErrInvalidToken
	}
	return sub, jti, nil
}

// NewEmailVerifyToken signs the token embedded in verification emails.
func NewEmailVerifyToken(secret, issuer, audience, userID string, ttl time.Duration) (string, error) {
	return newScopedToken(secret, issuer, audience, userID, TokenTypeEmailVerify, ttl)
}

// VerifyEmailVerifyToken resolves an email-verification token to a user ID.
func VerifyEmailVerifyToken(secret, issuer, audience, raw string) (string, error) {
	return verifyScopedToken(secret, issuer, audience, raw, TokenTypeEmailVerify)
}

func newScopedToken(secret, issuer, audience, userID, typ string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"typ": typ,
		"iss": issuer,
		"aud": audience,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func verifyScopedToken(secret, issuer, audience, raw, typ string) (string, error) {
	claims, err := parseSigned(secret, issuer, audience, raw, typ)
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

func parseSigned(secret, issuer, audience, raw, typ string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if got, _ := claims["typ"].(string); got != typ {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// NewRefreshToken returns a high-entropy opaque token (48 random bytes, 96
// hex characters) and its expiry.
func NewRefreshToken(ttl time.Duration) (RefreshToken, error) {
	raw, err := SecureRandomToken(48)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: raw, Exp: time.Now().UTC().Add(ttl)}, nil
}

// HashToken returns the SHA-256 hash of a raw token as hex. Stored refresh
// and API tokens are indexed by this hash so the raw secret never touches
// the store.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SecureRandomToken returns n bytes of cryptographically secure random data
// hex-encoded (2n characters).
func SecureRandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ConstantTimeEquals compares two strings without an early exit.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
