package session

import (
	"os"
	"strings"
	"time"
)

// TokenFormat selects the token encoding.
type TokenFormat string

const (
	FormatPaseto TokenFormat = "paseto"
	FormatJWT    TokenFormat = "jwt"
)

// MinJWTSecretBytes is the minimum HS256 secret size.
const MinJWTSecretBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// Format picks PASETO v4.public or HS256 JWT.
	Format TokenFormat

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is tolerated on expiry checks.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key (paseto format).
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key (jwt format).
	JWTSecret string
}

// DefaultConfig returns defaults without key material.
func DefaultConfig() Config {
	return Config{
		Issuer:          "autotm",
		Format:          FormatPaseto,
		AccessTokenTTL:  4 * time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - AUTOTM_PASETO_V4_SECRET_KEY_HEX (format paseto)
//   - AUTOTM_JWT_SECRET, at least 32 bytes (format jwt)
//
// Optional:
//   - AUTOTM_AUTH_ISSUER
//   - AUTOTM_AUTH_TOKEN_FORMAT (paseto|jwt)
//   - AUTOTM_AUTH_ACCESS_TTL
//   - AUTOTM_AUTH_REFRESH_TTL
//   - AUTOTM_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AUTOTM_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_AUTH_TOKEN_FORMAT")); v != "" {
		cfg.Format = TokenFormat(strings.ToLower(v))
	}

	if v := os.Getenv("AUTOTM_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("AUTOTM_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("AUTOTM_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("AUTOTM_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("AUTOTM_JWT_SECRET"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks format-specific key material and TTL ordering.
func (c Config) Validate() error {
	switch c.Format {
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	case FormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	if c.Issuer == "" || c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return ErrConfig
	}
	// Refresh tokens must outlive the access tokens they mint.
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return ErrConfig
	}
	return nil
}
