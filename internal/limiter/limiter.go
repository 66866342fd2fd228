// Package limiter enforces sliding-window rate limits over Redis. Each
// purpose (send/verify crossed with IP/phone) carries its own window
// and ceiling from configuration.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	redisrepo "github.com/ryukenshin546-a11y/Sms-sub001/internal/repository/redis"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// Purpose names one rate-limited dimension.
type Purpose string

const (
	PurposeSendIP      Purpose = "send:ip"
	PurposeSendPhone   Purpose = "send:phone"
	PurposeVerifyIP    Purpose = "verify:ip"
	PurposeVerifyPhone Purpose = "verify:phone"
)

// Decision is one admit-or-reject outcome plus the header material the
// HTTP layer needs.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	TotalHits  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailedOpen marks a decision granted because the limiter's own
	// storage failed while fail-open is configured. Audited separately.
	FailedOpen bool
}

// Limiter is the admission contract used by the OTP service.
type Limiter interface {
	Allow(ctx context.Context, purpose Purpose, subject string) (*Decision, error)
}

// WindowStore is the sliding-window storage the limiter runs on.
// *redisrepo.RateLimitCache is the production implementation.
type WindowStore interface {
	CheckAndRecord(ctx context.Context, key string, limit int, window time.Duration) (*redisrepo.WindowResult, error)
}

var _ WindowStore = (*redisrepo.RateLimitCache)(nil)

// RedisLimiter implements Limiter on the shared sliding-window cache.
// Identifiers are hashed upstream; subjects arriving here are already
// safe to use as storage keys.
type RedisLimiter struct {
	cache    WindowStore
	cfg      *config.RateLimitConfig
	failOpen bool
}

func NewRedisLimiter(cache WindowStore, cfg *config.Config) *RedisLimiter {
	return &RedisLimiter{
		cache:    cache,
		cfg:      &cfg.RateLimit,
		failOpen: cfg.RateLimit.FailOpen,
	}
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) window(purpose Purpose) (config.WindowLimit, error) {
	switch purpose {
	case PurposeSendIP:
		return l.cfg.SendIP, nil
	case PurposeSendPhone:
		return l.cfg.SendPhone, nil
	case PurposeVerifyIP:
		return l.cfg.VerifyIP, nil
	case PurposeVerifyPhone:
		return l.cfg.VerifyPhone, nil
	}
	return config.WindowLimit{}, fmt.Errorf("unknown rate limit purpose %q", purpose)
}

// Allow checks and records one hit. When the storage check itself
// fails, the configured policy decides: fail-closed rejects (returning
// the storage error), fail-open admits with FailedOpen set.
func (l *RedisLimiter) Allow(ctx context.Context, purpose Purpose, subject string) (*Decision, error) {
	wl, err := l.window(purpose)
	if err != nil {
		return nil, err
	}

	key := string(purpose) + ":" + subject

	result, err := l.cache.CheckAndRecord(ctx, key, wl.Max, wl.Window)
	if err != nil {
		if l.failOpen {
			util.Warn("Rate limiter storage failed, admitting (fail-open)",
				util.String("purpose", string(purpose)),
				util.ErrorField(err))
			return &Decision{
				Allowed:    true,
				Limit:      wl.Max,
				Remaining:  0,
				ResetAt:    time.Now().Add(wl.Window),
				FailedOpen: true,
			}, nil
		}
		return nil, fmt.Errorf("rate limit check for %s: %w", purpose, err)
	}

	decision := &Decision{
		Allowed:   result.Allowed,
		Limit:     wl.Max,
		TotalHits: result.TotalHits,
		ResetAt:   result.ResetAt,
	}

	remaining := wl.Max - result.TotalHits
	if remaining < 0 {
		remaining = 0
	}
	decision.Remaining = remaining

	if !result.Allowed {
		retryAfter := time.Until(result.ResetAt)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		decision.RetryAfter = retryAfter
	}

	return decision, nil
}
