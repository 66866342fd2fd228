package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/client"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

const sessionCachePrefix = "otp_session:"

// cacheEntry is the cache wire form. The model's own JSON tags shape
// API responses and hide storage fields, so the cache carries its own
// envelope. Plaintext phone fields are never cached.
type cacheEntry struct {
	SessionID            string              `json:"sid"`
	PhoneBucket          int                 `json:"pb"`
	PhoneEncrypted       string              `json:"pe"`
	PhoneKeyID           string              `json:"pk"`
	PhoneHash            string              `json:"ph"`
	UserID               string              `json:"uid,omitempty"`
	OTPID                string              `json:"oid"`
	ReferenceCode        string              `json:"ref"`
	Status               model.SessionStatus `json:"st"`
	ExpiresAt            time.Time           `json:"exp"`
	VerificationAttempts int                 `json:"va"`
	MaxAttempts          int                 `json:"ma"`
	ResendCount          int                 `json:"rc"`
	MaxResends           int                 `json:"mr"`
	LastResendAt         *time.Time          `json:"lra,omitempty"`
	VerifiedAt           *time.Time          `json:"vat,omitempty"`
	RequestID            string              `json:"rid,omitempty"`
	ClientIP             string              `json:"cip,omitempty"`
	UserAgent            string              `json:"ua,omitempty"`
	CreatedAt            time.Time           `json:"cat"`
	UpdatedAt            time.Time           `json:"uat"`
}

func toEntry(s *model.OTPSession) *cacheEntry {
	return &cacheEntry{
		SessionID:            s.SessionID,
		PhoneBucket:          s.PhoneBucket,
		PhoneEncrypted:       s.PhoneEncrypted,
		PhoneKeyID:           s.PhoneKeyID,
		PhoneHash:            s.PhoneHash,
		UserID:               s.UserID,
		OTPID:                s.OTPID,
		ReferenceCode:        s.ReferenceCode,
		Status:               s.Status,
		ExpiresAt:            s.ExpiresAt,
		VerificationAttempts: s.VerificationAttempts,
		MaxAttempts:          s.MaxAttempts,
		ResendCount:          s.ResendCount,
		MaxResends:           s.MaxResends,
		LastResendAt:         s.LastResendAt,
		VerifiedAt:           s.VerifiedAt,
		RequestID:            s.RequestID,
		ClientIP:             s.ClientIP,
		UserAgent:            s.UserAgent,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func (e *cacheEntry) toSession() *model.OTPSession {
	return &model.OTPSession{
		SessionID:            e.SessionID,
		PhoneBucket:          e.PhoneBucket,
		PhoneEncrypted:       e.PhoneEncrypted,
		PhoneKeyID:           e.PhoneKeyID,
		PhoneHash:            e.PhoneHash,
		UserID:               e.UserID,
		OTPID:                e.OTPID,
		ReferenceCode:        e.ReferenceCode,
		Status:               e.Status,
		ExpiresAt:            e.ExpiresAt,
		VerificationAttempts: e.VerificationAttempts,
		MaxAttempts:          e.MaxAttempts,
		ResendCount:          e.ResendCount,
		MaxResends:           e.MaxResends,
		LastResendAt:         e.LastResendAt,
		VerifiedAt:           e.VerifiedAt,
		RequestID:            e.RequestID,
		ClientIP:             e.ClientIP,
		UserAgent:            e.UserAgent,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

// SessionCache is an advisory read-through cache keyed by gateway
// otp_id. Scylla stays authoritative: every miss or decode failure is a
// silent fallback, and mutations invalidate instead of rewriting.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

var _ model.SessionCache = (*SessionCache)(nil)

func (c *SessionCache) GetByOTPID(ctx context.Context, otpID string) (*model.OTPSession, bool) {
	raw, err := c.client.Get(ctx, sessionCachePrefix+otpID)
	if err != nil {
		if err != goredis.Nil {
			util.Warn("Session cache read failed", util.ErrorField(err))
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		util.Warn("Session cache entry corrupt, dropping", util.ErrorField(err))
		_ = c.client.Del(ctx, sessionCachePrefix+otpID)
		return nil, false
	}

	return entry.toSession(), true
}

func (c *SessionCache) SetByOTPID(ctx context.Context, otpID string, session *model.OTPSession, ttl time.Duration) {
	raw, err := json.Marshal(toEntry(session))
	if err != nil {
		util.Warn("Session cache encode failed", util.ErrorField(err))
		return
	}

	if err := c.client.Set(ctx, sessionCachePrefix+otpID, raw, ttl); err != nil {
		util.Warn("Session cache write failed", util.ErrorField(err))
	}
}

func (c *SessionCache) Invalidate(ctx context.Context, otpID string) {
	if err := c.client.Del(ctx, sessionCachePrefix+otpID); err != nil {
		util.Warn("Session cache invalidate failed", util.ErrorField(err))
	}
}
