package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and abuse limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP OTP send budget, counted from the audit log.
	SendIPMax    int
	SendIPWindow time.Duration

	// Progressive per-IP lockout after failed verifications.
	LockoutShortThreshold int
	LockoutShortDuration  time.Duration
	LockoutLongThreshold  int
	LockoutLongDuration   time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:            envBool("AUTOTM_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:          envInt64("AUTOTM_AUTH_MAX_BODY_BYTES", 64<<10),
		SendIPMax:             envInt("AUTOTM_AUTH_SEND_IP_MAX", 20),
		SendIPWindow:          envDuration("AUTOTM_AUTH_SEND_IP_WINDOW", 15*time.Minute),
		LockoutShortThreshold: envInt("AUTOTM_AUTH_VERIFY_LOCKOUT_SHORT_THRESHOLD", 10),
		LockoutShortDuration:  envDuration("AUTOTM_AUTH_VERIFY_LOCKOUT_SHORT_DURATION", 15*time.Minute),
		LockoutLongThreshold:  envInt("AUTOTM_AUTH_VERIFY_LOCKOUT_LONG_THRESHOLD", 30),
		LockoutLongDuration:   envDuration("AUTOTM_AUTH_VERIFY_LOCKOUT_LONG_DURATION", 2*time.Hour),
	}

	if cfg.LockoutLongThreshold <= cfg.LockoutShortThreshold {
		cfg.LockoutLongThreshold = cfg.LockoutShortThreshold * 3
	}
	if cfg.LockoutLongDuration < cfg.LockoutShortDuration {
		cfg.LockoutLongDuration = cfg.LockoutShortDuration
	}
	return cfg
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
