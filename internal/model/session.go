package model

import "time"

// SessionStatus is the lifecycle state of an OTP session.
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusVerified SessionStatus = "verified"
	StatusExpired  SessionStatus = "expired"
	StatusFailed   SessionStatus = "failed"
	StatusBlocked  SessionStatus = "blocked"
)

// IsTerminal reports whether the status is absorbing: terminal sessions
// are never mutated again.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusExpired, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// OTPSession tracks one OTP issuance-through-resolution lifecycle.
// The phone number is persisted encrypted plus a deterministic search
// hash; the plaintext fields are populated in memory only.
type OTPSession struct {
	SessionID   string `json:"session_id" db:"session_id"`
	PhoneBucket int    `json:"-" db:"phone_bucket"`

	// In-memory only; never written to storage in the clear.
	PhoneNumber     string `json:"phone_number,omitempty" db:"-"`
	NormalizedPhone string `json:"-" db:"-"`

	PhoneEncrypted string `json:"-" db:"phone_encrypted"`
	PhoneKeyID     string `json:"-" db:"phone_key_id"`
	PhoneHash      string `json:"-" db:"phone_hash"`

	UserID string `json:"user_id,omitempty" db:"user_id"`

	// Gateway-issued pair, opaque to this service. A resend overwrites
	// both; the previous pair is invalidated at the gateway.
	OTPID         string `json:"otp_id" db:"otp_id"`
	ReferenceCode string `json:"reference_code" db:"reference_code"`

	Status    SessionStatus `json:"status" db:"status"`
	ExpiresAt time.Time     `json:"expires_at" db:"expires_at"`

	VerificationAttempts int `json:"verification_attempts" db:"verification_attempts"`
	MaxAttempts          int `json:"max_attempts" db:"max_attempts"`
	ResendCount          int `json:"resend_count" db:"resend_count"`
	MaxResends           int `json:"max_resends" db:"max_resends"`

	LastResendAt *time.Time `json:"last_resend_at,omitempty" db:"last_resend_at"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty" db:"verified_at"`

	RequestID string `json:"request_id,omitempty" db:"request_id"`
	ClientIP  string `json:"-" db:"client_ip"`
	UserAgent string `json:"-" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AttemptsRemaining never reports below zero.
func (s *OTPSession) AttemptsRemaining() int {
	remaining := s.MaxAttempts - s.VerificationAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpiredAt reports whether the session has passed its expiry.
func (s *OTPSession) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
