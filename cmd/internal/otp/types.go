package otp

import "time"

// Purpose scopes a code to one flow. Codes never cross purposes.
type Purpose string

const (
	PurposeLogin           Purpose = "login"
	PurposeRegister        Purpose = "register"
	PurposeVerifyPhone     Purpose = "verify_phone"
	PurposeResetPassword   Purpose = "reset_password"
	PurposeSensitiveAction Purpose = "sensitive_action"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegister, PurposeVerifyPhone, PurposeResetPassword, PurposeSensitiveAction:
		return true
	default:
		return false
	}
}

// IssuesSession reports whether a successful verification for p should yield a session.
func (p Purpose) IssuesSession() bool {
	return p == PurposeLogin || p == PurposeRegister
}

// DispatchStatus tracks delivery of the code to the user's handset.
type DispatchStatus string

const (
	DispatchPending   DispatchStatus = "pending"
	DispatchSent      DispatchStatus = "sent"
	DispatchDelivered DispatchStatus = "delivered"
	DispatchFailed    DispatchStatus = "failed"
)

// Valid reports whether s is a known dispatch status.
func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchPending, DispatchSent, DispatchDelivered, DispatchFailed:
		return true
	default:
		return false
	}
}

// ChannelSMS is the only delivery channel.
const ChannelSMS = "sms"

// Code is a persisted one-time code record. CodeHash is an argon2id PHC string.
type Code struct {
	ID                string
	Phone             string
	Purpose           Purpose
	CodeHash          string
	ExpiresAt         time.Time
	ConsumedAt        *time.Time
	Attempts          int
	MaxAttempts       int
	Region            string
	Channel           string
	DispatchStatus    DispatchStatus
	ProviderMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Usable reports whether the code may still be verified at now.
func (c Code) Usable(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt) && c.Attempts < c.MaxAttempts
}

// CreateInput is the request to issue a new code.
type CreateInput struct {
	Phone   string
	Purpose Purpose
	Region  string

	// Metadata is attached to log lines only; it is not persisted.
	Metadata map[string]string
}

// Issued is returned by Create. Code is the plaintext and must only be
// handed to the delivery path.
type Issued struct {
	ID           string
	Code         string
	Phone        string
	Purpose      Purpose
	Region       string
	ExpiresAt    time.Time
	IsTestNumber bool
}

// VerifyInput is a verification attempt.
type VerifyInput struct {
	Phone   string
	Code    string
	Purpose Purpose
}

// VerifyResult is returned on success.
type VerifyResult struct {
	Valid  bool
	CodeID string
	Phone  string
}
