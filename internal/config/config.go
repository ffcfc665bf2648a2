// Package config loads application configuration from environment
// variables. A .env file is honored when present so local development does
// not need exported variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. Strings for identifiers and
// secrets, durations for every lifetime and window so the units live in
// the environment, not in the code.
type Config struct {
	Env  string
	Port string

	// DemoMode runs the service against the in-memory store with a seeded
	// admin account. No MySQL required.
	DemoMode bool

	DBUser string
	DBPass string
	DBHost string
	DBPort string
	DBName string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	MFAChallengeTTL time.Duration
	EmailVerifyTTL  time.Duration

	BcryptCost       int
	LockoutThreshold int
	LockoutDuration  time.Duration

	MaxSessionsPerUser int
	MaxTrustedDevices  int

	MFAIssuer        string
	MFAEncryptionKey string // 64 hex chars -> 32-byte AES key

	PermCacheTTL  time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from the environment. Required variables cause
// a fatal log when missing; everything else has a production-sane default.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     envStr("APP_PORT", "8080"),
		DemoMode: envBool("DEMO_MODE", false),

		JWTSecret:   must("JWT_SECRET"),
		JWTIssuer:   envStr("JWT_ISSUER", "wiremi-auth"),
		JWTAudience: envStr("JWT_AUDIENCE", "wiremi-crm"),

		AccessTTL:       envDur("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:      envDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		MFAChallengeTTL: envDur("MFA_CHALLENGE_TTL", 10*time.Minute),
		EmailVerifyTTL:  envDur("EMAIL_VERIFY_TTL", 24*time.Hour),

		BcryptCost:       envInt("BCRYPT_COST", 12),
		LockoutThreshold: envInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  envDur("LOCKOUT_DURATION", 15*time.Minute),

		MaxSessionsPerUser: envInt("MAX_SESSIONS_PER_USER", 5),
		MaxTrustedDevices:  envInt("MAX_TRUSTED_DEVICES", 5),

		MFAIssuer:        envStr("MFA_ISSUER", "Wiremi CRM"),
		MFAEncryptionKey: must("MFA_ENCRYPTION_KEY"),

		PermCacheTTL:  envDur("PERM_CACHE_TTL", 15*time.Minute),
		SweepInterval: envDur("SESSION_SWEEP_INTERVAL", time.Hour),
	}

	if !cfg.DemoMode {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}

	// MFA challenge tokens are scoped to one login attempt; cap at ten
	// minutes regardless of configuration.
	if cfg.MFAChallengeTTL > 10*time.Minute {
		cfg.MFAChallengeTTL = 10 * time.Minute
	}
	return cfg
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
