// Package mocks provides hand-written test doubles for the service
// layer's dependencies. Each mock is a struct of function fields so a
// test overrides only the calls it cares about; unset fields return
// zero values.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/gateway"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/limiter"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
)

// GatewayClient mocks gateway.Client.
type GatewayClient struct {
	RequestOTPFunc func(ctx context.Context, normalizedPhone string) (*gateway.OTPRequest, error)
	VerifyOTPFunc  func(ctx context.Context, otpID, code string) (*gateway.VerifyResult, error)

	mu             sync.Mutex
	RequestedPhone []string
	VerifiedPairs  [][2]string
}

func (m *GatewayClient) RequestOTP(ctx context.Context, normalizedPhone string) (*gateway.OTPRequest, error) {
	m.mu.Lock()
	m.RequestedPhone = append(m.RequestedPhone, normalizedPhone)
	m.mu.Unlock()
	if m.RequestOTPFunc != nil {
		return m.RequestOTPFunc(ctx, normalizedPhone)
	}
	return &gateway.OTPRequest{OTPID: "otp-1", ReferenceCode: "REF001"}, nil
}

func (m *GatewayClient) VerifyOTP(ctx context.Context, otpID, code string) (*gateway.VerifyResult, error) {
	m.mu.Lock()
	m.VerifiedPairs = append(m.VerifiedPairs, [2]string{otpID, code})
	m.mu.Unlock()
	if m.VerifyOTPFunc != nil {
		return m.VerifyOTPFunc(ctx, otpID, code)
	}
	return &gateway.VerifyResult{Success: true}, nil
}

// SessionStore mocks model.SessionRepository with an in-memory map and
// real CAS semantics, so concurrency tests exercise the same
// lost-race paths the LWT store produces.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.OTPSession
	byOTPID  map[string]string

	CreateSessionFunc     func(ctx context.Context, session *model.OTPSession) error
	TransitionStatusFunc  func(ctx context.Context, sessionID string, to model.SessionStatus, verifiedAt *time.Time) (bool, error)
	IncrementAttemptsFunc func(ctx context.Context, sessionID string, expected int) (bool, error)
	ApplyResendFunc       func(ctx context.Context, sessionID string, expectedResends int, otpID, referenceCode string, expiresAt, resendAt time.Time) (bool, error)
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*model.OTPSession),
		byOTPID:  make(map[string]string),
	}
}

// Seed installs a session directly, bypassing CreateSession hooks.
func (m *SessionStore) Seed(session *model.OTPSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	// The plaintext phone has no column; reads never return it.
	cp.NormalizedPhone = ""
	m.sessions[cp.SessionID] = &cp
	m.byOTPID[cp.OTPID] = cp.SessionID
}

// Stored returns a copy of the stored session, or nil.
func (m *SessionStore) Stored(sessionID string) *model.OTPSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *SessionStore) CreateSession(ctx context.Context, session *model.OTPSession) error {
	if m.CreateSessionFunc != nil {
		if err := m.CreateSessionFunc(ctx, session); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	m.Seed(session)
	return nil
}

func (m *SessionStore) GetSessionByID(ctx context.Context, sessionID string) (*model.OTPSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFound()
	}
	cp := *s
	return &cp, nil
}

func (m *SessionStore) GetSessionByOTPID(ctx context.Context, otpID string) (*model.OTPSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID, ok := m.byOTPID[otpID]
	if !ok {
		return nil, apperr.NotFound()
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFound()
	}
	cp := *s
	return &cp, nil
}

func (m *SessionStore) IncrementAttempts(ctx context.Context, sessionID string, expected int) (bool, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, sessionID, expected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != model.StatusPending || s.VerificationAttempts != expected {
		return false, nil
	}
	s.VerificationAttempts = expected + 1
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *SessionStore) TransitionStatus(ctx context.Context, sessionID string, to model.SessionStatus, verifiedAt *time.Time) (bool, error) {
	if m.TransitionStatusFunc != nil {
		return m.TransitionStatusFunc(ctx, sessionID, to, verifiedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != model.StatusPending {
		return false, nil
	}
	s.Status = to
	s.VerifiedAt = verifiedAt
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *SessionStore) ApplyResend(ctx context.Context, sessionID string, expectedResends int, otpID, referenceCode string, expiresAt, resendAt time.Time) (bool, error) {
	if m.ApplyResendFunc != nil {
		return m.ApplyResendFunc(ctx, sessionID, expectedResends, otpID, referenceCode, expiresAt, resendAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != model.StatusPending || s.ResendCount != expectedResends {
		return false, nil
	}
	s.ResendCount = expectedResends + 1
	s.OTPID = otpID
	s.ReferenceCode = referenceCode
	s.ExpiresAt = expiresAt
	s.LastResendAt = &resendAt
	s.VerificationAttempts = 0
	s.UpdatedAt = time.Now().UTC()
	// Old otp_id mappings stay resolvable, matching the lookup table.
	m.byOTPID[otpID] = sessionID
	return true, nil
}

func (m *SessionStore) HealthCheck(ctx context.Context) error { return nil }

// VerifiedPhoneStore mocks model.VerifiedPhoneRepository.
type VerifiedPhoneStore struct {
	mu      sync.Mutex
	records map[string]*model.VerifiedPhone

	CreateVerifiedPhoneFunc func(ctx context.Context, record *model.VerifiedPhone) error
}

func NewVerifiedPhoneStore() *VerifiedPhoneStore {
	return &VerifiedPhoneStore{records: make(map[string]*model.VerifiedPhone)}
}

func (m *VerifiedPhoneStore) CreateVerifiedPhone(ctx context.Context, record *model.VerifiedPhone) error {
	if m.CreateVerifiedPhoneFunc != nil {
		if err := m.CreateVerifiedPhoneFunc(ctx, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[cp.PhoneHash] = &cp
	return nil
}

func (m *VerifiedPhoneStore) GetVerifiedPhone(ctx context.Context, phoneHash string) (*model.VerifiedPhone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[phoneHash]
	if !ok {
		return nil, apperr.NotFound()
	}
	cp := *r
	return &cp, nil
}

// Count reports how many verified phones were recorded.
func (m *VerifiedPhoneStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// SessionCache mocks model.SessionCache in memory.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]*model.OTPSession

	Invalidated []string
}

func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string]*model.OTPSession)}
}

func (m *SessionCache) GetByOTPID(ctx context.Context, otpID string) (*model.OTPSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[otpID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (m *SessionCache) SetByOTPID(ctx context.Context, otpID string, session *model.OTPSession, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	// The cache wire form never carries the plaintext phone.
	cp.NormalizedPhone = ""
	m.entries[otpID] = &cp
}

func (m *SessionCache) Invalidate(ctx context.Context, otpID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, otpID)
	m.Invalidated = append(m.Invalidated, otpID)
}

// Limiter mocks limiter.Limiter. The zero value admits everything.
type Limiter struct {
	AllowFunc func(ctx context.Context, purpose limiter.Purpose, subject string) (*limiter.Decision, error)

	mu    sync.Mutex
	Calls []string
}

func (m *Limiter) Allow(ctx context.Context, purpose limiter.Purpose, subject string) (*limiter.Decision, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, string(purpose))
	m.mu.Unlock()
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, purpose, subject)
	}
	return &limiter.Decision{Allowed: true, Limit: 100, Remaining: 99}, nil
}

// Recorder mocks audit.Recorder, capturing event types for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// RecordedEvent is one captured audit call.
type RecordedEvent struct {
	Kind      string
	EventType string
	Phone     string
	Success   bool
	Severity  model.EventSeverity
	Err       error
	Data      map[string]interface{}
}

func (m *Recorder) add(ev RecordedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *Recorder) LogOTPSend(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) {
	m.add(RecordedEvent{Kind: "otp_send", Phone: phone, Success: success, Data: data})
}

func (m *Recorder) LogOTPVerify(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) {
	m.add(RecordedEvent{Kind: "otp_verify", Phone: phone, Success: success, Data: data})
}

func (m *Recorder) LogOTPResend(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) {
	m.add(RecordedEvent{Kind: "otp_resend", Phone: phone, Success: success, Data: data})
}

func (m *Recorder) LogRateLimit(ctx context.Context, purpose, requestID string, data map[string]interface{}) {
	m.add(RecordedEvent{Kind: "rate_limit", EventType: purpose, Data: data})
}

func (m *Recorder) LogSecurityEvent(ctx context.Context, eventType string, severity model.EventSeverity, requestID string, data map[string]interface{}) {
	m.add(RecordedEvent{Kind: "security", EventType: eventType, Severity: severity, Data: data})
}

func (m *Recorder) LogError(ctx context.Context, eventType, requestID string, err error, data map[string]interface{}) {
	m.add(RecordedEvent{Kind: "error", EventType: eventType, Err: err, Data: data})
}

func (m *Recorder) RecentEvents(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	return nil, nil
}

// Events returns a snapshot of every captured call.
func (m *Recorder) Events() []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfKind filters the snapshot by Kind.
func (m *Recorder) EventsOfKind(kind string) []RecordedEvent {
	var out []RecordedEvent
	for _, ev := range m.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
