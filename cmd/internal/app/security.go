package app

import (
	"errors"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
// Falling back to plain SHA-256 under AUTOTM_REQUIRE_TOKEN_HMAC is a startup error.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: AUTOTM_REQUIRE_TOKEN_HMAC=true but AUTOTM_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: AUTOTM_REQUIRE_TOKEN_HMAC=true but AUTOTM_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// The hasher the session service will use must agree.
	h, err := token.HasherFromEnv(true)
	if err != nil {
		return err
	}
	if !h.HMAC() {
		return errors.New("security policy: AUTOTM_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
