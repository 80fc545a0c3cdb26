package session

import "errors"

var (
	// ErrTokenInvalid is returned when a token fails signature, issuer or type checks.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReuseDetected is returned when a superseded refresh token is presented.
	// The session has already been revoked when this is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrNoSession is returned when the subject has no live session.
	ErrNoSession = errors.New("no session")

	// ErrUnknownSubject is returned when issuing for a subject the store does not know.
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
