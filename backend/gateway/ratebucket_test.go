package gateway

import (
	"testing"
	"time"
)

func TestRateBucketAllowsUpToBurstCapacity(t *testing.T) {
	b := NewRateBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected token %d to be available from the initial burst", i)
		}
	}
	if b.Allow() {
		t.Fatal("expected the bucket to be exhausted after consuming the full burst capacity")
	}
}

func TestRateBucketRefillsOverTime(t *testing.T) {
	b := NewRateBucket(1, 50) // 50 tokens/sec -> refills within ~20ms
	if !b.Allow() {
		t.Fatal("expected the initial token to be available")
	}
	if b.Allow() {
		t.Fatal("expected the bucket to be empty immediately after consuming its only token")
	}

	time.Sleep(30 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected a token to have refilled after the wait")
	}
}

func TestRateBucketNeverExceedsCapacity(t *testing.T) {
	b := NewRateBucket(2, 1000)
	time.Sleep(20 * time.Millisecond) // would overfill past capacity without clamping

	count := 0
	for b.Allow() {
		count++
		if count > 2 {
			t.Fatal("expected the bucket to never hold more than its burst capacity")
		}
	}
	if count != 2 {
		t.Fatalf("expected exactly 2 tokens available, got %d", count)
	}
}
