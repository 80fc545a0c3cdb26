package otp

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/security/codehash"
)

// Config defines runtime configuration for the code lifecycle.
type Config struct {
	// CodeLength is the number of decimal digits in a generated code.
	CodeLength int

	// TTL is how long a code stays verifiable after issue.
	TTL time.Duration

	// MaxAttempts bounds verification attempts per code.
	MaxAttempts int

	// RateLimitMax is the number of outstanding codes per phone+purpose
	// allowed inside RateLimitWindow.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// DefaultRegion is the ISO 3166 region used to parse national numbers.
	DefaultRegion string

	// Test numbers receive TestCode instead of a random code.
	// Ignored unless TestNumbersEnabled is set.
	TestNumbersEnabled bool
	TestNumbers        []string
	TestCode           string

	// Hash controls argon2id cost for stored codes.
	Hash codehash.Config
}

// DefaultConfig returns production defaults. Test numbers are off.
func DefaultConfig() Config {
	return Config{
		CodeLength:      5,
		TTL:             5 * time.Minute,
		MaxAttempts:     5,
		RateLimitMax:    5,
		RateLimitWindow: 15 * time.Minute,
		DefaultRegion:   identity.DefaultPhoneRegion,
		TestNumbers:     []string{"+99361999999"},
		TestCode:        "12345",
		Hash:            codehash.DefaultConfig(),
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// Optional:
//   - AUTOTM_OTP_CODE_LENGTH (4..10)
//   - AUTOTM_OTP_TTL
//   - AUTOTM_OTP_MAX_ATTEMPTS (1..20)
//   - AUTOTM_OTP_RATE_LIMIT_MAX (1..100)
//   - AUTOTM_OTP_RATE_LIMIT_WINDOW
//   - AUTOTM_OTP_DEFAULT_REGION
//   - AUTOTM_OTP_TEST_NUMBERS_ENABLED
//   - AUTOTM_OTP_TEST_NUMBERS (comma separated)
//   - AUTOTM_OTP_TEST_CODE (digits, must match CodeLength)
//   - AUTOTM_OTP_ARGON2_* (see codehash.FromEnv)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_CODE_LENGTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 || n > 10 {
			return Config{}, ErrConfig
		}
		cfg.CodeLength = n
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_MAX_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 20 {
			return Config{}, ErrConfig
		}
		cfg.MaxAttempts = n
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_RATE_LIMIT_MAX")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.RateLimitMax = n
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_RATE_LIMIT_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RateLimitWindow = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_DEFAULT_REGION")); v != "" {
		cfg.DefaultRegion = strings.ToUpper(v)
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_TEST_NUMBERS_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TestNumbersEnabled = b
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_TEST_NUMBERS")); v != "" {
		var nums []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				nums = append(nums, part)
			}
		}
		cfg.TestNumbers = nums
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_OTP_TEST_CODE")); v != "" {
		cfg.TestCode = v
	}

	hc, err := codehash.FromEnv()
	if err != nil {
		return Config{}, ErrConfig
	}
	cfg.Hash = hc

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.CodeLength < 4 || c.CodeLength > c.Hash.MaxCodeLength {
		return ErrConfig
	}
	if c.TTL <= 0 || c.MaxAttempts < 1 || c.RateLimitMax < 1 || c.RateLimitWindow <= 0 {
		return ErrConfig
	}
	if c.TestNumbersEnabled {
		if len(c.TestCode) != c.CodeLength || !allDigits(c.TestCode) {
			return ErrConfig
		}
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
