package config

import "time"

// RateLimitClass is the budget for one class of routes. FailuresOnly marks
// classes where successful requests are refunded, so only failures consume
// budget (login is the canonical case).
type RateLimitClass struct {
	Name         string
	Limit        int
	Window       time.Duration
	FailuresOnly bool
	// ByEmail adds the normalized email from the request body to the
	// caller key, so one IP cannot exhaust every account and one attacker
	// cannot exhaust a victim's budget by rotating IPs.
	ByEmail bool
}

// RateLimitConfig carries the per-class budgets for the auth routes.
type RateLimitConfig struct {
	Enabled  bool
	Prefix   string
	Login    RateLimitClass
	MFA      RateLimitClass
	Refresh  RateLimitClass
	Register RateLimitClass
}

// LoadRateLimitConfig reads the rate-limit budgets from the environment.
func LoadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Prefix:  envStr("RATE_LIMIT_PREFIX", "rl"),
		Login: RateLimitClass{
			Name:         "login",
			Limit:        envInt("RATE_LIMIT_LOGIN_MAX", 5),
			Window:       envDur("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
			FailuresOnly: true,
			ByEmail:      true,
		},
		MFA: RateLimitClass{
			Name:    "mfa",
			Limit:   envInt("RATE_LIMIT_MFA_MAX", 10),
			Window:  envDur("RATE_LIMIT_MFA_WINDOW", 15*time.Minute),
			ByEmail: false,
		},
		Refresh: RateLimitClass{
			Name:   "refresh",
			Limit:  envInt("RATE_LIMIT_REFRESH_MAX", 30),
			Window: envDur("RATE_LIMIT_REFRESH_WINDOW", time.Minute),
		},
		Register: RateLimitClass{
			Name:    "register",
			Limit:   envInt("RATE_LIMIT_REGISTER_MAX", 10),
			Window:  envDur("RATE_LIMIT_REGISTER_WINDOW", time.Hour),
			ByEmail: true,
		},
	}
}
