package bucketing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
)

func testManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{PhoneBuckets: 64, EventBuckets: 16},
	})
}

func TestPhoneBucketsAreStableAndInRange(t *testing.T) {
	bm := testManager()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("v1:hash-%d", i)
		first := bm.GetPhoneBucket(key)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, bm.PhoneBuckets())
		assert.Equal(t, first, bm.GetPhoneBucket(key), "bucket must be stable for %s", key)
	}
}

func TestEventBucketsAreInRange(t *testing.T) {
	bm := testManager()

	for i := 0; i < 100; i++ {
		b := bm.GetEventBucket(fmt.Sprintf("event-%d", i))
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, bm.EventBuckets())
	}
}

func TestBucketsSpread(t *testing.T) {
	bm := testManager()

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[bm.GetPhoneBucket(fmt.Sprintf("v1:hash-%d", i))] = true
	}
	// 1000 keys over 64 buckets should touch most of them.
	assert.Greater(t, len(seen), 32)
}

func TestTimeBucketAlignment(t *testing.T) {
	bm := testManager()

	b := bm.GetTimeBucket(60)
	assert.Zero(t, b%60)
	assert.LessOrEqual(t, b, time.Now().Unix())
	assert.Greater(t, b, time.Now().Unix()-61)
}

func TestDateBucketIsUTC(t *testing.T) {
	bm := testManager()

	loc := time.FixedZone("ICT", 7*3600)
	early := time.Date(2026, 3, 15, 2, 0, 0, 0, loc)
	assert.Equal(t, "2026-03-14", bm.GetDateBucket(early))

	utc := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-15", bm.GetDateBucket(utc))
}

func TestConcurrentHashingIsSafe(t *testing.T) {
	bm := testManager()

	want := bm.GetPhoneBucket("v1:shared")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, want, bm.GetPhoneBucket("v1:shared"))
			}
		}()
	}
	wg.Wait()
}
