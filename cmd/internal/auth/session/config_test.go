package session

import (
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("AUTOTM_PASETO_V4_SECRET_KEY_HEX", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("AUTOTM_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("AUTOTM_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_RefreshShorterThanAccess(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("AUTOTM_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("AUTOTM_AUTH_ACCESS_TTL", "48h")
	t.Setenv("AUTOTM_AUTH_REFRESH_TTL", "24h")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_JWTNeedsLongSecret(t *testing.T) {
	t.Setenv("AUTOTM_AUTH_TOKEN_FORMAT", "jwt")
	t.Setenv("AUTOTM_JWT_SECRET", "short")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for short jwt secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_UnknownFormat(t *testing.T) {
	t.Setenv("AUTOTM_AUTH_TOKEN_FORMAT", "macaroon")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for unknown format, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("AUTOTM_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("AUTOTM_AUTH_ISSUER", "autotm-test")
	t.Setenv("AUTOTM_AUTH_ACCESS_TTL", "2h")
	t.Setenv("AUTOTM_AUTH_REFRESH_TTL", "720h")
	t.Setenv("AUTOTM_AUTH_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "autotm-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.Format != FormatPaseto {
		t.Fatalf("format mismatch: %q", cfg.Format)
	}
	if cfg.AccessTokenTTL != 2*time.Hour {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 720*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
}

func TestLoadConfigFromEnv_ValidJWT(t *testing.T) {
	t.Setenv("AUTOTM_AUTH_TOKEN_FORMAT", "JWT")
	t.Setenv("AUTOTM_JWT_SECRET", strings.Repeat("k", MinJWTSecretBytes))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Format != FormatJWT {
		t.Fatalf("format mismatch: %q", cfg.Format)
	}
	if cfg.AccessTokenTTL != 4*time.Hour || cfg.RefreshTokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected default ttls: %v / %v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
}
