package execution

import (
	"sync"
	"sync/atomic"
	"time"
)

// awaitRecord is one registered multi-leg fill await: remaining counts down
// to zero as legs complete, at which point result is delivered on done.
type awaitRecord struct {
	remaining atomic.Int64
	done      chan FillResult
	once      sync.Once
	timer     *time.Timer
}

// FillResult is delivered to a Fill Tracker await when it completes, either
// with every leg filled or with an error (rejection or expiry).
type FillResult struct {
	Orders []Order
	Err    error
}

// FillTracker correlates multi-leg order placements: a caller registers an
// await for a correlation id *before* routing the legs (§5), closing the
// "fill before await" race, then receives from Await's channel, which
// delivers once every leg completes, one leg rejects, or the auto-expire
// timer fires. Completed awaits stay registered, so an Await issued after
// completion still receives the result.
type FillTracker struct {
	mu       sync.Mutex
	awaits   map[string]*awaitRecord
	expireAfter time.Duration
}

// NewFillTracker builds a tracker whose awaits auto-expire after expireAfter
// (default 2 minutes per §5).
func NewFillTracker(expireAfter time.Duration) *FillTracker {
	if expireAfter <= 0 {
		expireAfter = 2 * time.Minute
	}
	return &FillTracker{awaits: make(map[string]*awaitRecord), expireAfter: expireAfter}
}

// Register creates an await for correlationID expecting legCount fills.
// Must be called before the corresponding orders are routed.
func (t *FillTracker) Register(correlationID string, legCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := &awaitRecord{done: make(chan FillResult, 1)}
	rec.remaining.Store(int64(legCount))
	rec.timer = time.AfterFunc(t.expireAfter, func() {
		t.complete(correlationID, FillResult{Err: FillTimeout{CorrelationID: correlationID}})
	})
	t.awaits[correlationID] = rec
}

// Satisfy records a completed fill for the order's correlation id. When the
// remaining counter reaches zero the await completes successfully.
func (t *FillTracker) Satisfy(o Order) {
	if o.CorrelationID == "" {
		return
	}
	t.mu.Lock()
	rec, ok := t.awaits[o.CorrelationID]
	t.mu.Unlock()
	if !ok {
		return
	}

	if rec.remaining.Add(-1) <= 0 {
		t.complete(o.CorrelationID, FillResult{Orders: []Order{o}})
	}
}

// Progress is a no-op hook for partial fills; kept distinct from Satisfy so
// future per-leg partial accounting has a seam without touching callers.
func (t *FillTracker) Progress(o Order) {}

// Reject completes the await exceptionally because a leg was rejected.
func (t *FillTracker) Reject(correlationID, reason string) {
	t.complete(correlationID, FillResult{Err: FillRejected{CorrelationID: correlationID, Reason: reason}})
}

// Await returns the channel on which correlationID's result is delivered,
// including when the await has already completed. For an id that was never
// registered it returns a channel that never receives.
func (t *FillTracker) Await(correlationID string) <-chan FillResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.awaits[correlationID]
	if !ok {
		return make(chan FillResult)
	}
	return rec.done
}

func (t *FillTracker) complete(correlationID string, result FillResult) {
	t.mu.Lock()
	rec, ok := t.awaits[correlationID]
	t.mu.Unlock()
	if !ok {
		return
	}

	rec.once.Do(func() {
		rec.timer.Stop()
		rec.done <- result
		close(rec.done)
	})
}
