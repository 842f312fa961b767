// Package ratelimit throttles requests per principal using token
// buckets. Each principal gets its own bucket; the bucket table is a
// size-bounded, idle-evicted LRU so unbounded key cardinality cannot
// exhaust memory.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/lanki/edge/internal/config"
)

// Limiter decides allow/deny per principal key. Unknown keys start
// with a full bucket; refill is fractional, so low rates do not
// starve.
type Limiter struct {
	capacity int
	refill   rate.Limit

	// mu only guards bucket get-or-create on the table. The per-key
	// rate.Limiter carries its own lock, so concurrent requests from
	// distinct principals never contend.
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// New validates the configuration and builds the limiter.
func New(cfg config.RateLimitConfig) (*Limiter, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("rate limit capacity must be greater than 0")
	}
	if cfg.RefillPerSecond <= 0 {
		return nil, fmt.Errorf("rate limit refill rate must be greater than 0")
	}
	maxBuckets := cfg.MaxBuckets
	if maxBuckets <= 0 {
		maxBuckets = 4096
	}
	ttl := cfg.BucketTTL
	if ttl <= 0 {
		// Default idle eviction: ten full refill windows.
		ttl = time.Duration(10*float64(cfg.Capacity)/cfg.RefillPerSecond) * time.Second
		if ttl <= 0 {
			ttl = time.Minute
		}
	}

	return &Limiter{
		capacity: cfg.Capacity,
		refill:   rate.Limit(cfg.RefillPerSecond),
		buckets:  expirable.NewLRU[string, *rate.Limiter](maxBuckets, nil, ttl),
	}, nil
}

// Allow consumes one token from the principal's bucket. An empty key
// denies: ambiguity favours rejection.
func (l *Limiter) Allow(key string) bool {
	if l == nil || key == "" {
		return false
	}

	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(l.refill, l.capacity)
		l.buckets.Add(key, bucket)
	}
	l.mu.Unlock()

	// The token is consumed here, after the decision, never
	// speculatively: a denied request leaves the bucket untouched.
	return bucket.Allow()
}

// RetryAfter is the advisory wait until one token accrues, used for
// the Retry-After header on 429 responses.
func (l *Limiter) RetryAfter() time.Duration {
	seconds := math.Ceil(1 / float64(l.refill))
	return time.Duration(seconds) * time.Second
}

// Tracked reports how many principals currently hold a bucket.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}
