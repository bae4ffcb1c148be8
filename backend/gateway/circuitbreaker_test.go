package gateway

import (
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterThresholdFailures(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("expected Allow() to return true before the breaker trips (failure %d)", i)
		}
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Fatal("expected Allow() to still return true on the threshold-th attempt")
	}
	b.RecordFailure()

	if b.Allow() {
		t.Fatal("expected the breaker to be open after 3 consecutive failures")
	}
}

func TestCircuitBreakerRecordSuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if !b.Allow() {
		t.Fatal("expected the breaker to remain closed since RecordSuccess reset the failure count")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldownAndAdmitsOneProbe(t *testing.T) {
	b := NewCircuitBreaker(1, 20*time.Millisecond)
	b.Allow()
	b.RecordFailure()

	if b.Allow() {
		t.Fatal("expected the breaker to be open immediately after tripping")
	}

	time.Sleep(30 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected the breaker to admit one half-open probe after the cooldown")
	}
	if b.Allow() {
		t.Fatal("expected a second concurrent call to be blocked while the probe is in flight")
	}
}

func TestCircuitBreakerProbeFailureReopensImmediately(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected the half-open probe to be admitted")
	}
	b.RecordFailure()

	if b.Allow() {
		t.Fatal("expected a failed probe to reopen the breaker immediately")
	}
}

func TestCircuitBreakerManualResetForcesClosed(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	b.Allow()
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected the breaker to be open before the manual reset")
	}

	b.ManualReset()
	if !b.Allow() {
		t.Fatal("expected the breaker to be closed after ManualReset")
	}
}
