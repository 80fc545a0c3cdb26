package otp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no outstanding code exists for phone+purpose.
	ErrNotFound = errors.New("otp not found")

	// ErrExpired is returned when the newest outstanding code is past its expiry.
	ErrExpired = errors.New("otp expired")

	// ErrInvalid is returned on a code mismatch. The attempt is counted.
	ErrInvalid = errors.New("otp invalid")

	// ErrMaxAttemptsExceeded is returned once the attempt budget is exhausted.
	ErrMaxAttemptsExceeded = errors.New("otp max attempts exceeded")

	// ErrRateLimited is returned when too many codes were issued recently.
	ErrRateLimited = errors.New("otp rate limited")

	// ErrInvalidInput is returned for malformed phone numbers, purposes or codes.
	ErrInvalidInput = errors.New("otp invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// VerifyError carries the outcome detail of a failed verification.
// Kind is one of ErrNotFound, ErrExpired, ErrInvalid or ErrMaxAttemptsExceeded.
type VerifyError struct {
	Kind              error
	AttemptsRemaining int
}

func (e *VerifyError) Error() string {
	if errors.Is(e.Kind, ErrInvalid) {
		return fmt.Sprintf("%v: %d attempts remaining", e.Kind, e.AttemptsRemaining)
	}
	return e.Kind.Error()
}

func (e *VerifyError) Unwrap() error { return e.Kind }

// RateLimitError carries retry metadata for issuance throttling.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AttemptsRemaining extracts the remaining attempt count from a verification error.
// ok is false when err carries no attempt detail.
func AttemptsRemaining(err error) (n int, ok bool) {
	var ve *VerifyError
	if !errors.As(err, &ve) || !errors.Is(ve.Kind, ErrInvalid) {
		return 0, false
	}
	return ve.AttemptsRemaining, true
}
