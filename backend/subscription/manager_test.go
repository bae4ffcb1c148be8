package subscription

import (
	"testing"

	"github.com/quantwell/optioncore/backend/execution"
)

func TestSubscribeReturnsOnlyNewlyActiveTokens(t *testing.T) {
	m := NewManager(10)

	added, err := m.Subscribe("sub-1", []uint64{1, 2, 3}, PriorityManual)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(added) != 3 {
		t.Fatalf("expected all 3 tokens to be newly added, got %v", added)
	}

	// A second subscriber on an already-active token gets no new tokens.
	added2, err := m.Subscribe("sub-2", []uint64{1}, PriorityManual)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(added2) != 0 {
		t.Fatalf("expected no new tokens for an already-active token, got %v", added2)
	}
	if m.ActiveCount() != 3 {
		t.Fatalf("expected 3 active tokens, got %d", m.ActiveCount())
	}
}

func TestSubscribeEvictsLowerPriorityWhenOverCapacity(t *testing.T) {
	m := NewManager(2)

	if _, err := m.Subscribe("manual-sub", []uint64{1, 2}, PriorityManual); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	added, err := m.Subscribe("strategy-sub", []uint64{3}, PriorityStrategy)
	if err != nil {
		t.Fatalf("expected eviction to free room for the higher-priority subscribe, got error %v", err)
	}
	if len(added) != 1 || added[0] != 3 {
		t.Fatalf("expected token 3 to be newly added, got %v", added)
	}
	if m.IsActive(1) && m.IsActive(2) {
		t.Fatal("expected at least one lower-priority manual token to be evicted")
	}
}

func TestSubscribeNeverEvictsStrategyPriority(t *testing.T) {
	m := NewManager(1)

	if _, err := m.Subscribe("strategy-sub", []uint64{1}, PriorityStrategy); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_, err := m.Subscribe("manual-sub", []uint64{2}, PriorityManual)
	if _, ok := err.(execution.CapacityExhausted); !ok {
		t.Fatalf("expected CapacityExhausted since the strategy token cannot be evicted, got %v", err)
	}
	if !m.IsActive(1) {
		t.Fatal("expected the strategy-priority token to remain active")
	}
}

func TestUnsubscribeFreesTokenOnlyWhenNoEntriesRemain(t *testing.T) {
	m := NewManager(10)
	m.Subscribe("sub-1", []uint64{1}, PriorityManual)
	m.Subscribe("sub-2", []uint64{1}, PriorityManual)

	removed := m.Unsubscribe("sub-1", []uint64{1})
	if len(removed) != 0 {
		t.Fatalf("expected token 1 to stay active (sub-2 still references it), got removed=%v", removed)
	}
	if !m.IsActive(1) {
		t.Fatal("expected token 1 to remain active")
	}

	removed = m.Unsubscribe("sub-2", []uint64{1})
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("expected token 1 to be freed once the last subscriber drops it, got %v", removed)
	}
	if m.IsActive(1) {
		t.Fatal("expected token 1 to no longer be active")
	}
}

func TestUnsubscribeAllRemovesEverySubscriberEntry(t *testing.T) {
	m := NewManager(10)
	m.Subscribe("sub-1", []uint64{1, 2, 3}, PriorityManual)

	removed := m.UnsubscribeAll("sub-1")
	if len(removed) != 3 {
		t.Fatalf("expected all 3 tokens to be freed, got %v", removed)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("expected 0 active tokens after UnsubscribeAll, got %d", m.ActiveCount())
	}
}
