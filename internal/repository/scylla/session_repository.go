package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// SessionRepository persists OTP sessions in ScyllaDB. Lookups by
// gateway otp_id go through the otp_ref_to_session table; that table
// retains superseded otp_id rows, so an old otp_id still resolves to
// its session after a resend.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient) *SessionRepository {
	return &SessionRepository{client: client}
}

var _ model.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) CreateSession(ctx context.Context, session *model.OTPSession) error {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}

	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	query := r.client.Prepared.CreateSession.Bind(
		session.SessionID, session.PhoneBucket, session.PhoneEncrypted,
		session.PhoneKeyID, session.PhoneHash, session.UserID,
		session.OTPID, session.ReferenceCode, string(session.Status),
		session.ExpiresAt, session.VerificationAttempts, session.MaxAttempts,
		session.ResendCount, session.MaxResends, session.LastResendAt,
		session.VerifiedAt, session.RequestID, session.ClientIP,
		session.UserAgent, session.CreatedAt, session.UpdatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP session",
			util.String("session_id", session.SessionID),
			util.ErrorField(err))
		return apperr.Persistence(fmt.Errorf("create session: %w", err))
	}

	refQuery := r.client.Prepared.CreateRefToSession.Bind(
		session.OTPID, session.SessionID, session.ReferenceCode, now,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(refQuery, 2); err != nil {
		util.Error("Failed to create otp_id lookup row",
			util.String("session_id", session.SessionID),
			util.ErrorField(err))
		return apperr.Persistence(fmt.Errorf("create otp_id lookup: %w", err))
	}

	return nil
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, sessionID string) (*model.OTPSession, error) {
	session := &model.OTPSession{}
	var status string

	query := r.client.Prepared.GetSessionByID.Bind(sessionID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&session.SessionID, &session.PhoneBucket, &session.PhoneEncrypted,
		&session.PhoneKeyID, &session.PhoneHash, &session.UserID,
		&session.OTPID, &session.ReferenceCode, &status,
		&session.ExpiresAt, &session.VerificationAttempts, &session.MaxAttempts,
		&session.ResendCount, &session.MaxResends, &session.LastResendAt,
		&session.VerifiedAt, &session.RequestID, &session.ClientIP,
		&session.UserAgent, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.NotFound()
		}
		return nil, apperr.Persistence(fmt.Errorf("get session: %w", err))
	}

	session.Status = model.SessionStatus(status)
	return session, nil
}

func (r *SessionRepository) GetSessionByOTPID(ctx context.Context, otpID string) (*model.OTPSession, error) {
	var sessionID string

	query := r.client.Prepared.GetSessionIDByOTPID.Bind(otpID).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &sessionID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.NotFound()
		}
		return nil, apperr.Persistence(fmt.Errorf("resolve otp_id: %w", err))
	}

	return r.GetSessionByID(ctx, sessionID)
}

// IncrementAttempts is a lightweight transaction: it applies only when
// the row is still pending with exactly the expected attempt count.
// applied=false means a concurrent writer got there first; the caller
// re-reads and decides.
func (r *SessionRepository) IncrementAttempts(ctx context.Context, sessionID string, expected int) (bool, error) {
	query := r.client.Prepared.IncrementAttempts.Bind(
		expected+1, time.Now().UTC(), sessionID, expected,
	).WithContext(ctx)

	applied, err := query.ScanCAS(nil, nil)
	if err != nil {
		return false, apperr.Persistence(fmt.Errorf("increment attempts: %w", err))
	}
	return applied, nil
}

func (r *SessionRepository) TransitionStatus(ctx context.Context, sessionID string, to model.SessionStatus, verifiedAt *time.Time) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("transition target %q is not terminal", to)
	}

	query := r.client.Prepared.TransitionStatus.Bind(
		string(to), verifiedAt, time.Now().UTC(), sessionID,
	).WithContext(ctx)

	applied, err := query.ScanCAS(nil)
	if err != nil {
		return false, apperr.Persistence(fmt.Errorf("transition status: %w", err))
	}
	return applied, nil
}

func (r *SessionRepository) ApplyResend(ctx context.Context, sessionID string, expectedResends int, otpID, referenceCode string, expiresAt, resendAt time.Time) (bool, error) {
	query := r.client.Prepared.ApplyResend.Bind(
		expectedResends+1, otpID, referenceCode, expiresAt, resendAt,
		time.Now().UTC(), sessionID, expectedResends,
	).WithContext(ctx)

	applied, err := query.ScanCAS(nil, nil)
	if err != nil {
		return false, apperr.Persistence(fmt.Errorf("apply resend: %w", err))
	}
	if !applied {
		return false, nil
	}

	// New otp_id resolves to the same session. The stale row is kept:
	// a verify against a superseded otp_id must find the session and
	// fail on code mismatch, not on NOT_FOUND.
	refQuery := r.client.Prepared.CreateRefToSession.Bind(
		otpID, sessionID, referenceCode, time.Now().UTC(),
	).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(refQuery, 2); err != nil {
		util.Error("Failed to create otp_id lookup row after resend",
			util.String("session_id", sessionID),
			util.ErrorField(err))
		return true, apperr.Persistence(fmt.Errorf("create otp_id lookup: %w", err))
	}

	return true, nil
}

func (r *SessionRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
