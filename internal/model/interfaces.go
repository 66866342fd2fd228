package model

import (
	"context"
	"time"
)

// SessionRepository is the session-store contract. Implementations must
// provide atomic conditional updates: the CAS methods apply only when
// the stored row still matches the expected precondition, returning
// applied=false (never an error) on a lost race.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *OTPSession) error
	GetSessionByID(ctx context.Context, sessionID string) (*OTPSession, error)
	// GetSessionByOTPID resolves a gateway otp_id to its session via the
	// lookup table. Superseded otp_ids still resolve to the session.
	GetSessionByOTPID(ctx context.Context, otpID string) (*OTPSession, error)

	// IncrementAttempts bumps verification_attempts from expected to
	// expected+1 iff the session is still pending with that exact count.
	IncrementAttempts(ctx context.Context, sessionID string, expected int) (applied bool, err error)
	// TransitionStatus moves a pending session to a terminal state.
	// Applying against an already-terminal row is a no-op (applied=false).
	TransitionStatus(ctx context.Context, sessionID string, to SessionStatus, verifiedAt *time.Time) (applied bool, err error)
	// ApplyResend atomically records a resend: new gateway pair, attempts
	// reset, resend_count incremented, expiry extended.
	ApplyResend(ctx context.Context, sessionID string, expectedResends int, otpID, referenceCode string, expiresAt, resendAt time.Time) (applied bool, err error)

	HealthCheck(ctx context.Context) error
}

// VerifiedPhoneRepository is the append-only verified-phone registry.
type VerifiedPhoneRepository interface {
	CreateVerifiedPhone(ctx context.Context, record *VerifiedPhone) error
	GetVerifiedPhone(ctx context.Context, phoneHash string) (*VerifiedPhone, error)
}

// SessionCache is a read-through fast path for session lookup by
// otp_id. It is advisory: misses and errors fall back to the
// repository, and mutations invalidate rather than rewrite entries.
type SessionCache interface {
	GetByOTPID(ctx context.Context, otpID string) (*OTPSession, bool)
	SetByOTPID(ctx context.Context, otpID string, session *OTPSession, ttl time.Duration)
	Invalidate(ctx context.Context, otpID string)
}
