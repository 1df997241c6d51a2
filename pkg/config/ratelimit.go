package config

import "time"

// RateLimitConfig contains verification attempt limiting settings.
// The per-user threshold is deliberately conservative: 10 attempts per hour
// is plenty for a human retyping codes and starves brute-force attempts.
type RateLimitConfig struct {
	// Per-user verification attempt limiting
	PerUserMaxAttempts int           `env:"RATE_LIMIT_USER_MAX_ATTEMPTS" env-default:"10"`
	PerUserWindow      time.Duration `env:"RATE_LIMIT_USER_WINDOW" env-default:"1h"`

	// Per-IP limiting on the public REST endpoints
	PerIPEnabled     bool          `env:"RATE_LIMIT_IP_ENABLED" env-default:"true"`
	PerIPMaxAttempts int           `env:"RATE_LIMIT_IP_MAX_ATTEMPTS" env-default:"100"`
	PerIPWindow      time.Duration `env:"RATE_LIMIT_IP_WINDOW" env-default:"1h"`
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerUserMaxAttempts: 10,
		PerUserWindow:      time.Hour,
		PerIPEnabled:       true,
		PerIPMaxAttempts:   100,
		PerIPWindow:        time.Hour,
	}
}
