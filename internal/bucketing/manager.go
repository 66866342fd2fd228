package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
)

// BucketingManager assigns stable murmur3 buckets: phone buckets spread
// session partitions across Scylla, event buckets shard audit rows in
// ClickHouse, and time buckets anchor rate-limit windows.
type BucketingManager struct {
	phoneBuckets int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		phoneBuckets: cfg.Bucketing.PhoneBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hashers to avoid allocation on the hot path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetPhoneBucket returns the stable partition bucket for a phone hash
// (0 to phoneBuckets-1).
func (bm *BucketingManager) GetPhoneBucket(phoneHash string) int {
	return bm.getBucket(phoneHash, bm.phoneBuckets)
}

// GetEventBucket returns the shard bucket for an audit event key.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetTimeBucket returns the window anchor for rate limiting, aligned to
// windowSeconds boundaries.
func (bm *BucketingManager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// GetDateBucket returns the UTC date partition used by audit tables.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) PhoneBuckets() int {
	return bm.phoneBuckets
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(numBuckets))
}
