package session

import "time"

// TokenType distinguishes access from refresh tokens ("typ" claim).
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the signed claim set carried by both token kinds.
type Claims struct {
	Subject   string
	Type      TokenType
	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer encodes and verifies Claims.
//
// Parse checks signature, issuer and expiry (with the configured skew) and
// returns ErrTokenInvalid or ErrTokenExpired. Callers check Type.
type Signer interface {
	Sign(c Claims) (string, error)
	Parse(token string, now time.Time) (Claims, error)
}

// NewSigner builds the Signer selected by cfg.Format.
func NewSigner(cfg Config) (Signer, error) {
	switch cfg.Format {
	case FormatPaseto:
		return NewPasetoSigner(cfg)
	case FormatJWT:
		return NewJWTSigner(cfg)
	default:
		return nil, ErrConfig
	}
}
