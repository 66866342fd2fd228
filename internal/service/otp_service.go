package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/audit"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/bucketing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/encryption"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/gateway"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/hashing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/limiter"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// casRetries bounds the conditional-update retry loop under contention.
const casRetries = 3

// RequestMeta carries per-request context recorded on sessions and
// audit events.
type RequestMeta struct {
	RequestID string
	ClientIP  string
	UserAgent string
}

// SendResult is the outcome of a successful send. RateLimit is the
// phone-scoped admission decision, surfaced so responses can carry the
// X-RateLimit headers.
type SendResult struct {
	SessionID     string
	OTPID         string
	ReferenceCode string
	ExpiresAt     time.Time
	RateLimit     *limiter.Decision
}

// ResendResult is the outcome of a successful resend.
type ResendResult struct {
	OTPID         string
	ReferenceCode string
	ResendCount   int
	NextResendAt  time.Time
}

// OTPService owns the send/verify/resend lifecycle. It never sees the
// plaintext OTP code beyond forwarding it to the gateway, and never
// persists a phone number in the clear.
type OTPService struct {
	sessions model.SessionRepository
	verified model.VerifiedPhoneRepository
	cache    model.SessionCache
	provider gateway.Client
	limits   limiter.Limiter
	recorder audit.Recorder
	crypto   *encryption.Manager
	hasher   *hashing.Hasher
	buckets  *bucketing.BucketingManager
	otpCfg   config.OTPConfig

	now func() time.Time
}

func NewOTPService(
	sessions model.SessionRepository,
	verified model.VerifiedPhoneRepository,
	cache model.SessionCache,
	provider gateway.Client,
	limits limiter.Limiter,
	recorder audit.Recorder,
	crypto *encryption.Manager,
	hasher *hashing.Hasher,
	buckets *bucketing.BucketingManager,
	cfg *config.Config,
) *OTPService {
	return &OTPService{
		sessions: sessions,
		verified: verified,
		cache:    cache,
		provider: provider,
		limits:   limits,
		recorder: recorder,
		crypto:   crypto,
		hasher:   hasher,
		buckets:  buckets,
		otpCfg:   cfg.OTP,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Send validates and normalizes the phone, checks both send limits,
// asks the gateway for a code, and persists the pending session.
//
// A persistence failure after the gateway call still returns success:
// the user already has a code in flight, so the failure is logged for
// reconciliation instead of surfaced.
func (s *OTPService) Send(ctx context.Context, phoneNumber, userID string, meta RequestMeta) (*SendResult, error) {
	started := s.now()

	normalized, err := NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	if meta.ClientIP != "" {
		if _, err := s.allow(ctx, limiter.PurposeSendIP, meta.ClientIP, normalized, meta); err != nil {
			return nil, err
		}
	}

	phoneHash, err := s.hasher.HashPhone(normalized)
	if err != nil {
		return nil, apperr.Configuration(err)
	}

	phoneDecision, err := s.allow(ctx, limiter.PurposeSendPhone, phoneHash, normalized, meta)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.crypto.EncryptField(ctx, normalized)
	if err != nil {
		return nil, apperr.Configuration(fmt.Errorf("encrypt phone: %w", err))
	}
	encryptedBlob, err := encrypted.Serialize()
	if err != nil {
		return nil, apperr.Configuration(fmt.Errorf("serialize envelope: %w", err))
	}

	otp, err := s.provider.RequestOTP(ctx, normalized)
	if err != nil {
		s.recorder.LogOTPSend(ctx, normalized, meta.RequestID, false, s.now().Sub(started), map[string]interface{}{
			"stage": "gateway",
		})
		return nil, err
	}

	nowT := s.now()
	session := &model.OTPSession{
		SessionID:       uuid.New().String(),
		PhoneBucket:     s.buckets.GetPhoneBucket(phoneHash),
		NormalizedPhone: normalized,
		PhoneEncrypted:  encryptedBlob,
		PhoneKeyID:      encrypted.KeyID,
		PhoneHash:       phoneHash,
		UserID:          userID,
		OTPID:           otp.OTPID,
		ReferenceCode:   otp.ReferenceCode,
		Status:          model.StatusPending,
		ExpiresAt:       nowT.Add(s.otpCfg.TTL),
		MaxAttempts:     s.otpCfg.MaxAttempts,
		MaxResends:      s.otpCfg.MaxResends,
		RequestID:       meta.RequestID,
		ClientIP:        meta.ClientIP,
		UserAgent:       meta.UserAgent,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		// The code is already in flight; absorb and reconcile offline.
		util.Error("Session persistence failed after gateway send",
			util.String("session_id", session.SessionID),
			util.String("request_id", meta.RequestID),
			util.ErrorField(err))
		s.recorder.LogError(ctx, "otp_send_persistence_failure", meta.RequestID, err, map[string]interface{}{
			"session_id": session.SessionID,
			"severity":   string(model.SeverityCritical),
		})
	} else {
		s.cache.SetByOTPID(ctx, otp.OTPID, session, s.otpCfg.TTL)
	}

	s.recorder.LogOTPSend(ctx, normalized, meta.RequestID, true, s.now().Sub(started), map[string]interface{}{
		"session_id": session.SessionID,
	})

	return &SendResult{
		SessionID:     session.SessionID,
		OTPID:         otp.OTPID,
		ReferenceCode: otp.ReferenceCode,
		ExpiresAt:     session.ExpiresAt,
		RateLimit:     phoneDecision,
	}, nil
}

// Verify resolves the session by its gateway pair, enforces expiry and
// attempt ceilings, consumes an attempt atomically, and delegates the
// code comparison to the gateway. The service never compares codes
// itself. The returned decision is the phone-scoped admission result
// when the limits were consulted, for response headers.
func (s *OTPService) Verify(ctx context.Context, otpID, referenceCode, code string, meta RequestMeta) (*model.OTPSession, *limiter.Decision, error) {
	started := s.now()

	if otpID == "" || referenceCode == "" || code == "" {
		return nil, nil, apperr.Validation("otpId, referenceCode and otpCode are required")
	}

	session, err := s.lookupByOTPID(ctx, otpID)
	if err != nil {
		return nil, nil, err
	}
	if session.ReferenceCode != referenceCode && session.OTPID == otpID {
		// The pair must match together; a stale reference code does not
		// identify a session.
		return nil, nil, apperr.NotFound()
	}

	if err := s.guardVerify(ctx, session, meta); err != nil {
		s.auditVerify(ctx, session, meta, started, false, err)
		return nil, nil, err
	}

	if meta.ClientIP != "" {
		if _, err := s.allow(ctx, limiter.PurposeVerifyIP, meta.ClientIP, "", meta); err != nil {
			return nil, nil, err
		}
	}
	phoneDecision, err := s.allow(ctx, limiter.PurposeVerifyPhone, session.PhoneHash, "", meta)
	if err != nil {
		return nil, nil, err
	}

	// Consume one attempt before asking the gateway. The conditional
	// update serializes concurrent verifies: each retry re-reads and
	// re-checks, so attempts can never exceed the ceiling.
	for attempt := 0; ; attempt++ {
		applied, err := s.sessions.IncrementAttempts(ctx, session.SessionID, session.VerificationAttempts)
		if err != nil {
			return nil, phoneDecision, err
		}
		if applied {
			session.VerificationAttempts++
			break
		}

		if attempt >= casRetries {
			return nil, phoneDecision, apperr.Persistence(fmt.Errorf("attempt counter contention on session %s", session.SessionID))
		}

		session, err = s.sessions.GetSessionByID(ctx, session.SessionID)
		if err != nil {
			return nil, phoneDecision, err
		}
		if err := s.guardVerify(ctx, session, meta); err != nil {
			s.auditVerify(ctx, session, meta, started, false, err)
			return nil, phoneDecision, err
		}
	}
	s.cache.Invalidate(ctx, otpID)

	result, err := s.provider.VerifyOTP(ctx, otpID, code)
	if err != nil {
		s.recorder.LogError(ctx, "otp_verify_gateway_failure", meta.RequestID, err, map[string]interface{}{
			"session_id": session.SessionID,
		})
		return nil, phoneDecision, err
	}

	if result.Success {
		verified, err := s.completeVerify(ctx, session, meta, started)
		return verified, phoneDecision, err
	}

	return nil, phoneDecision, s.failVerify(ctx, session, result, meta, started)
}

// guardVerify enforces the absorbing terminal states and lazy expiry.
func (s *OTPService) guardVerify(ctx context.Context, session *model.OTPSession, meta RequestMeta) error {
	switch session.Status {
	case model.StatusVerified:
		return apperr.NotFound()
	case model.StatusExpired:
		return apperr.Expired()
	case model.StatusFailed:
		return apperr.MaxAttempts()
	case model.StatusBlocked:
		return apperr.ResendLimit()
	}

	if session.IsExpiredAt(s.now()) {
		s.transition(ctx, session, model.StatusExpired, nil)
		return apperr.Expired()
	}

	if session.VerificationAttempts >= session.MaxAttempts {
		s.transition(ctx, session, model.StatusFailed, nil)
		return apperr.MaxAttempts()
	}

	return nil
}

func (s *OTPService) completeVerify(ctx context.Context, session *model.OTPSession, meta RequestMeta, started time.Time) (*model.OTPSession, error) {
	verifiedAt := s.now()

	recordPhone := true
	applied, err := s.sessions.TransitionStatus(ctx, session.SessionID, model.StatusVerified, &verifiedAt)
	if err != nil {
		// Gateway accepted the code; report success and reconcile.
		util.Error("Verified transition persistence failed",
			util.String("session_id", session.SessionID),
			util.ErrorField(err))
		s.recorder.LogError(ctx, "otp_verify_persistence_failure", meta.RequestID, err, map[string]interface{}{
			"session_id": session.SessionID,
			"severity":   string(model.SeverityCritical),
		})
	} else if !applied {
		// Lost the terminal race. If another worker verified it, this
		// call still reports success idempotently.
		fresh, ferr := s.sessions.GetSessionByID(ctx, session.SessionID)
		if ferr == nil && fresh.Status != model.StatusVerified {
			err := s.statusError(fresh.Status)
			s.auditVerify(ctx, fresh, meta, started, false, err)
			return nil, err
		}
		// The winning verifier already recorded the phone.
		recordPhone = false
	}

	session.Status = model.StatusVerified
	session.VerifiedAt = &verifiedAt
	s.cache.Invalidate(ctx, session.OTPID)

	if recordPhone {
		s.recordVerifiedPhone(ctx, session, verifiedAt, meta)
	}

	s.auditVerify(ctx, session, meta, started, true, nil)
	return session, nil
}

func (s *OTPService) recordVerifiedPhone(ctx context.Context, session *model.OTPSession, verifiedAt time.Time, meta RequestMeta) {
	record := &model.VerifiedPhone{
		PhoneHash:       session.PhoneHash,
		PhoneEncrypted:  session.PhoneEncrypted,
		PhoneKeyID:      session.PhoneKeyID,
		UserID:          session.UserID,
		SourceSessionID: session.SessionID,
		VerifiedAt:      verifiedAt,
		Method:          "sms_otp",
		IsActive:        true,
	}
	if err := s.verified.CreateVerifiedPhone(ctx, record); err != nil {
		util.Error("Verified phone record persistence failed",
			util.String("session_id", session.SessionID),
			util.ErrorField(err))
		s.recorder.LogError(ctx, "verified_phone_persistence_failure", meta.RequestID, err, map[string]interface{}{
			"session_id": session.SessionID,
			"severity":   string(model.SeverityCritical),
		})
	}
}

func (s *OTPService) failVerify(ctx context.Context, session *model.OTPSession, result *gateway.VerifyResult, meta RequestMeta, started time.Time) error {
	var outcome *apperr.Error
	switch {
	case result.IsExpired:
		s.transition(ctx, session, model.StatusExpired, nil)
		outcome = apperr.Expired()
	case result.IsErrorCount || session.VerificationAttempts >= session.MaxAttempts:
		s.transition(ctx, session, model.StatusFailed, nil)
		outcome = apperr.MaxAttempts()
	default:
		outcome = apperr.InvalidCode(session.AttemptsRemaining())
	}

	s.auditVerify(ctx, session, meta, started, false, outcome)
	return outcome
}

// Resend issues a fresh gateway pair for a pending session, resetting
// attempts and extending the expiry. The previous pair is invalidated
// at the gateway by the new request.
func (s *OTPService) Resend(ctx context.Context, sessionID, phoneNumber string, meta RequestMeta) (*ResendResult, error) {
	started := s.now()

	normalized, err := NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	phoneHash, err := s.hasher.HashPhone(normalized)
	if err != nil {
		return nil, apperr.Configuration(err)
	}
	if phoneHash != session.PhoneHash {
		return nil, apperr.Validation("phone number does not match session")
	}

	if err := s.guardResend(ctx, session, meta); err != nil {
		s.recorder.LogOTPResend(ctx, normalized, meta.RequestID, false, s.now().Sub(started), map[string]interface{}{
			"session_id": session.SessionID,
			"reason":     string(apperr.FromError(err).Code),
		})
		return nil, err
	}

	otp, err := s.provider.RequestOTP(ctx, normalized)
	if err != nil {
		s.recorder.LogOTPResend(ctx, normalized, meta.RequestID, false, s.now().Sub(started), map[string]interface{}{
			"session_id": session.SessionID,
			"stage":      "gateway",
		})
		return nil, err
	}

	nowT := s.now()
	expiresAt := nowT.Add(s.otpCfg.TTL)

	applied, err := s.sessions.ApplyResend(ctx, session.SessionID, session.ResendCount, otp.OTPID, otp.ReferenceCode, expiresAt, nowT)
	if err != nil {
		// New code already in flight; absorb as in Send.
		util.Error("Resend persistence failed after gateway send",
			util.String("session_id", session.SessionID),
			util.ErrorField(err))
		s.recorder.LogError(ctx, "otp_resend_persistence_failure", meta.RequestID, err, map[string]interface{}{
			"session_id": session.SessionID,
			"severity":   string(model.SeverityCritical),
		})
	} else if !applied {
		fresh, ferr := s.sessions.GetSessionByID(ctx, session.SessionID)
		if ferr != nil {
			return nil, ferr
		}
		if gerr := s.guardResend(ctx, fresh, meta); gerr != nil {
			return nil, gerr
		}
		// A concurrent resend won; its pair is the live one.
		return nil, apperr.ResendTooSoon(int(math.Ceil(s.otpCfg.ResendMinInterval.Seconds())))
	}

	s.cache.Invalidate(ctx, session.OTPID)
	s.cache.Invalidate(ctx, otp.OTPID)

	s.recorder.LogOTPResend(ctx, normalized, meta.RequestID, true, s.now().Sub(started), map[string]interface{}{
		"session_id":   session.SessionID,
		"resend_count": session.ResendCount + 1,
	})

	return &ResendResult{
		OTPID:         otp.OTPID,
		ReferenceCode: otp.ReferenceCode,
		ResendCount:   session.ResendCount + 1,
		NextResendAt:  nowT.Add(s.otpCfg.ResendMinInterval),
	}, nil
}

func (s *OTPService) guardResend(ctx context.Context, session *model.OTPSession, meta RequestMeta) error {
	if session.Status.IsTerminal() {
		return s.statusError(session.Status)
	}

	if session.IsExpiredAt(s.now()) {
		s.transition(ctx, session, model.StatusExpired, nil)
		return apperr.Expired()
	}

	if session.ResendCount >= session.MaxResends {
		// Exhausting the resend budget is itself a terminal event.
		s.transition(ctx, session, model.StatusBlocked, nil)
		s.recorder.LogSecurityEvent(ctx, "otp_session_blocked", model.SeverityWarn, meta.RequestID, map[string]interface{}{
			"session_id":   session.SessionID,
			"resend_count": session.ResendCount,
		})
		return apperr.ResendLimit()
	}

	// The interval throttles resend-to-resend only. The first resend
	// after the initial send is always admitted.
	if session.LastResendAt != nil {
		nextAllowed := session.LastResendAt.Add(s.otpCfg.ResendMinInterval)
		if now := s.now(); now.Before(nextAllowed) {
			wait := int(math.Ceil(nextAllowed.Sub(now).Seconds()))
			return apperr.ResendTooSoon(wait)
		}
	}

	return nil
}

// statusError maps a terminal status to its deterministic error.
func (s *OTPService) statusError(status model.SessionStatus) *apperr.Error {
	switch status {
	case model.StatusVerified:
		return apperr.NotFound()
	case model.StatusExpired:
		return apperr.Expired()
	case model.StatusFailed:
		return apperr.MaxAttempts()
	case model.StatusBlocked:
		return apperr.ResendLimit()
	}
	return apperr.FromError(fmt.Errorf("unexpected session status %q", status))
}

func (s *OTPService) lookupByOTPID(ctx context.Context, otpID string) (*model.OTPSession, error) {
	if cached, ok := s.cache.GetByOTPID(ctx, otpID); ok {
		return cached, nil
	}

	session, err := s.sessions.GetSessionByOTPID(ctx, otpID)
	if err != nil {
		return nil, err
	}

	if session.Status == model.StatusPending {
		if ttl := session.ExpiresAt.Sub(s.now()); ttl > 0 {
			s.cache.SetByOTPID(ctx, otpID, session, ttl)
		}
	}
	return session, nil
}

// transition applies a terminal transition best-effort. Losing the race
// is fine: some other caller moved the session to a terminal state, and
// terminal states are absorbing.
func (s *OTPService) transition(ctx context.Context, session *model.OTPSession, to model.SessionStatus, verifiedAt *time.Time) {
	applied, err := s.sessions.TransitionStatus(ctx, session.SessionID, to, verifiedAt)
	if err != nil {
		util.Error("Status transition failed",
			util.String("session_id", session.SessionID),
			util.String("to", string(to)),
			util.ErrorField(err))
		return
	}
	if applied {
		session.Status = to
	}
	s.cache.Invalidate(ctx, session.OTPID)
}

func (s *OTPService) allow(ctx context.Context, purpose limiter.Purpose, subject, phone string, meta RequestMeta) (*limiter.Decision, error) {
	decision, err := s.limits.Allow(ctx, purpose, subject)
	if err != nil {
		return nil, apperr.Persistence(fmt.Errorf("rate limiter unavailable: %w", err))
	}

	if decision.FailedOpen {
		s.recorder.LogSecurityEvent(ctx, "rate_limit_fail_open", model.SeverityWarn, meta.RequestID, map[string]interface{}{
			"purpose": string(purpose),
		})
	}

	if !decision.Allowed {
		data := map[string]interface{}{
			"limit":      decision.Limit,
			"total_hits": decision.TotalHits,
		}
		if phone != "" {
			data["phone_masked"] = audit.MaskPhone(phone)
		}
		s.recorder.LogRateLimit(ctx, string(purpose), meta.RequestID, data)

		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		return decision, limiter.NewDenied(decision, apperr.RateLimited(retryAfter))
	}

	return decision, nil
}

// restorePhone recovers the normalized phone from the stored envelope.
// Sessions read back from Scylla or the cache carry only the encrypted
// form; audit events still need the plaintext for masking.
func (s *OTPService) restorePhone(ctx context.Context, session *model.OTPSession) {
	if session.NormalizedPhone != "" || session.PhoneEncrypted == "" {
		return
	}
	envelope, err := encryption.Deserialize(session.PhoneEncrypted)
	if err == nil {
		var phone string
		if phone, err = s.crypto.DecryptField(ctx, envelope); err == nil {
			session.NormalizedPhone = phone
			return
		}
	}
	util.Warn("Phone recovery for audit failed",
		util.String("session_id", session.SessionID),
		util.ErrorField(err))
}

func (s *OTPService) auditVerify(ctx context.Context, session *model.OTPSession, meta RequestMeta, started time.Time, success bool, outcome error) {
	s.restorePhone(ctx, session)
	data := map[string]interface{}{
		"session_id": session.SessionID,
		"status":     string(session.Status),
		"attempts":   session.VerificationAttempts,
	}
	if outcome != nil {
		data["error_code"] = string(apperr.FromError(outcome).Code)
	}
	s.recorder.LogOTPVerify(ctx, session.NormalizedPhone, meta.RequestID, success, s.now().Sub(started), data)
}
