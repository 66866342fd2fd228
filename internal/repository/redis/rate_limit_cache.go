package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/client"
)

const rateLimitPrefix = "rate_limit:"

// slidingWindowScript checks and records in one round trip. The check
// and the ZADD must be atomic; a separate read-then-write lets N
// concurrent requests through an N-1 sized gap.
//
// Returns {allowed, total_hits, oldest_score_ms}.
const slidingWindowScript = `
    local key = KEYS[1]
    local now = tonumber(ARGV[1])
    local window = tonumber(ARGV[2])
    local limit = tonumber(ARGV[3])
    local member = ARGV[4]

    redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

    local count = redis.call('ZCARD', key)
    local allowed = 0
    if count < limit then
        redis.call('ZADD', key, now, member)
        redis.call('PEXPIRE', key, window)
        allowed = 1
        count = count + 1
    end

    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local oldest_score = now
    if oldest[2] then
        oldest_score = tonumber(oldest[2])
    end

    return {allowed, count, oldest_score}
`

// WindowResult is the raw outcome of one sliding-window check.
type WindowResult struct {
	Allowed   bool
	TotalHits int
	// ResetAt is when the oldest recorded hit leaves the window.
	ResetAt time.Time
}

// RateLimitCache stores per-key sliding windows as Redis sorted sets of
// timestamped members.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// CheckAndRecord atomically admits or rejects one hit against the
// window. A rejected hit is not recorded.
func (c *RateLimitCache) CheckAndRecord(ctx context.Context, key string, limit int, window time.Duration) (*WindowResult, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	result, err := c.client.Eval(ctx, slidingWindowScript,
		[]string{rateLimitPrefix + key},
		nowMs, windowMs, limit, uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("sliding window check failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected result format from sliding window script")
	}

	allowed, ok1 := values[0].(int64)
	totalHits, ok2 := values[1].(int64)
	oldestMs, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected result types from sliding window script")
	}

	return &WindowResult{
		Allowed:   allowed == 1,
		TotalHits: int(totalHits),
		ResetAt:   time.UnixMilli(oldestMs + windowMs),
	}, nil
}

// Reset clears a window, mainly for tests and operator intervention.
func (c *RateLimitCache) Reset(ctx context.Context, key string) error {
	return c.client.Del(ctx, rateLimitPrefix+key)
}
