package gateway

import (
	"sync"
	"time"
)

// RateBucket is a simple token bucket: refills at a fixed rate up to a
// burst capacity, used for the gateway's read bucket and order-placement
// bucket (§4.1). Live.KillSwitch's flatten orders skip the bucket by never
// calling Allow; cancels issued during kill-switch activation go through
// Live.CancelOrder and its order bucket.
type RateBucket struct {
	mu sync.Mutex

	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
}

// NewRateBucket builds a bucket with the given burst capacity and sustained
// refill rate in tokens/second, starting full.
func NewRateBucket(capacity float64, refillPerSecond float64) *RateBucket {
	return &RateBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillPerSecond,
		last:       time.Now(),
	}
}

// Allow attempts to take one token, refilling first. Returns false (and the
// caller should surface ErrRateLimited) when no token is available.
func (b *RateBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
