package authapi

import "time"

type otpSendRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
	Region  string `json:"region"`
}

type otpSendResponse struct {
	RequestID string    `json:"request_id"`
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}

type otpVerifyRequest struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type otpVerifyResponse struct {
	Valid             bool             `json:"valid"`
	Message           string           `json:"message"`
	Reason            string           `json:"reason,omitempty"`
	AttemptsRemaining *int             `json:"attempts_remaining,omitempty"`
	UserID            string           `json:"user_id,omitempty"`
	NewUser           bool             `json:"new_user,omitempty"`
	Session           *sessionResponse `json:"session,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type logoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}
