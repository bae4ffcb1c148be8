package execution

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/quantwell/optioncore/backend/cache"
)

// IdempotencyStore deduplicates OrderRequests within a rolling window. It is
// backed by cache.Cache so the in-memory and Redis implementations from
// backend/cache are interchangeable here.
type IdempotencyStore struct {
	backing cache.Cache
	window  time.Duration
	clock   Clock
}

// NewIdempotencyStore wires a backing cache.Cache with the dedup window
// (default 5 minutes per §6 idempotency.window).
func NewIdempotencyStore(backing cache.Cache, window time.Duration, clock Clock) *IdempotencyStore {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &IdempotencyStore{backing: backing, window: window, clock: clock}
}

// Key computes the dedup key per §4.2: first 64 bits of SHA-256 of
// strategyId|instrumentToken|side|quantity|floor(now_ms / bucketMs), where
// bucketMs is the dedup window in milliseconds.
func (s *IdempotencyStore) Key(req OrderRequest) string {
	bucketMs := s.window.Milliseconds()
	if bucketMs <= 0 {
		bucketMs = 1
	}
	bucket := s.clock.Now().UnixMilli() / bucketMs
	raw := fmt.Sprintf("%s|%d|%s|%d|%d", req.StrategyID, req.InstrumentToken, req.Side, req.Quantity, bucket)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum[:8])
}

// Seen reports whether key is already marked as used.
func (s *IdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.backing.Exists(ctx, idemCacheKey(key))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Mark records key with the store's TTL window.
func (s *IdempotencyStore) Mark(ctx context.Context, key string) error {
	return s.backing.Set(ctx, idemCacheKey(key), markerBytes(), s.window)
}

func idemCacheKey(key string) string {
	return cache.CacheKey(cache.NS_Orders, "idem:"+key)
}

func markerBytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], 1)
	return b[:]
}
