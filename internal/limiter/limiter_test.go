package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	redisrepo "github.com/ryukenshin546-a11y/Sms-sub001/internal/repository/redis"
)

// fakeWindowStore reproduces the sliding-window script's contract in
// memory under a controllable clock: prune hits older than the window,
// admit while under the limit, record admitted hits only.
type fakeWindowStore struct {
	now  time.Time
	hits map[string][]time.Time
	err  error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{now: time.Now(), hits: make(map[string][]time.Time)}
}

func (f *fakeWindowStore) CheckAndRecord(ctx context.Context, key string, limit int, window time.Duration) (*redisrepo.WindowResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	cutoff := f.now.Add(-window)
	kept := f.hits[key][:0]
	for _, ts := range f.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	allowed := len(kept) < limit
	if allowed {
		kept = append(kept, f.now)
	}
	f.hits[key] = kept
	oldest := f.now
	if len(kept) > 0 {
		oldest = kept[0]
	}
	return &redisrepo.WindowResult{
		Allowed:   allowed,
		TotalHits: len(kept),
		ResetAt:   oldest.Add(window),
	}, nil
}

func testRateLimitConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		SendIP:      config.WindowLimit{Window: time.Minute, Max: 10},
		SendPhone:   config.WindowLimit{Window: time.Hour, Max: 5},
		VerifyIP:    config.WindowLimit{Window: time.Minute, Max: 30},
		VerifyPhone: config.WindowLimit{Window: 10 * time.Minute, Max: 10},
	}
}

func TestWindowSelection(t *testing.T) {
	l := &RedisLimiter{cfg: testRateLimitConfig()}

	cases := []struct {
		purpose Purpose
		want    config.WindowLimit
	}{
		{PurposeSendIP, config.WindowLimit{Window: time.Minute, Max: 10}},
		{PurposeSendPhone, config.WindowLimit{Window: time.Hour, Max: 5}},
		{PurposeVerifyIP, config.WindowLimit{Window: time.Minute, Max: 30}},
		{PurposeVerifyPhone, config.WindowLimit{Window: 10 * time.Minute, Max: 10}},
	}
	for _, tc := range cases {
		got, err := l.window(tc.purpose)
		require.NoError(t, err, "purpose %s", tc.purpose)
		assert.Equal(t, tc.want, got, "purpose %s", tc.purpose)
	}

	_, err := l.window(Purpose("unknown"))
	assert.Error(t, err)
}

func TestNewRedisLimiterReadsFailOpenPolicy(t *testing.T) {
	cfg := &config.Config{RateLimit: *testRateLimitConfig()}
	cfg.RateLimit.FailOpen = true

	l := NewRedisLimiter(nil, cfg)
	assert.True(t, l.failOpen)

	cfg.RateLimit.FailOpen = false
	l = NewRedisLimiter(nil, cfg)
	assert.False(t, l.failOpen, "fail-closed is the default policy")
}

func TestAllowSlidingWindow(t *testing.T) {
	store := newFakeWindowStore()
	cfg := &config.Config{RateLimit: *testRateLimitConfig()}
	l := NewRedisLimiter(store, cfg)
	ctx := context.Background()

	// SendPhone allows 5 per hour; spread hits a minute apart.
	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, PurposeSendPhone, "subject")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4-i, d.Remaining)
		store.now = store.now.Add(time.Minute)
	}

	denied, err := l.Allow(ctx, PurposeSendPhone, "subject")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.Equal(t, 5, denied.TotalHits)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// Purposes key independently; the same subject is fresh elsewhere.
	other, err := l.Allow(ctx, PurposeVerifyPhone, "subject")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	// The denied hit was not recorded, so once the recorded ones leave
	// the window the next request is admitted again.
	store.now = store.now.Add(time.Hour)
	d, err := l.Allow(ctx, PurposeSendPhone, "subject")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.TotalHits)
}

func TestAllowStorageFailurePolicies(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("redis down")

	cfg := &config.Config{RateLimit: *testRateLimitConfig()}
	l := NewRedisLimiter(store, cfg)
	_, err := l.Allow(context.Background(), PurposeSendIP, "203.0.113.7")
	require.Error(t, err, "fail-closed surfaces the storage error")

	cfg.RateLimit.FailOpen = true
	l = NewRedisLimiter(store, cfg)
	d, err := l.Allow(context.Background(), PurposeSendIP, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.FailedOpen)
}

func TestDeniedCarriesDecisionAndCode(t *testing.T) {
	decision := &Decision{
		Allowed:    false,
		Limit:      5,
		Remaining:  0,
		TotalHits:  6,
		ResetAt:    time.Now().Add(30 * time.Second),
		RetryAfter: 30 * time.Second,
	}
	err := NewDenied(decision, apperr.RateLimited(30))

	// The HTTP layer recovers the decision for headers.
	var denied *Denied
	require.True(t, errors.As(error(err), &denied))
	assert.Equal(t, 5, denied.Decision.Limit)

	// The error chain still resolves to the stable code.
	appErr := apperr.FromError(err)
	assert.Equal(t, apperr.CodeRateLimited, appErr.Code)
	assert.Equal(t, 30, appErr.RetryAfterSeconds)
	assert.Equal(t, appErr.Error(), err.Error())
}
