package dispatch

import "errors"

var (
	// ErrInvalidMessage is returned when a Message lacks a phone, code or OTP id.
	ErrInvalidMessage = errors.New("dispatch: invalid message")

	// ErrClosed is returned by SendOTP after Close.
	ErrClosed = errors.New("dispatch: bridge closed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
