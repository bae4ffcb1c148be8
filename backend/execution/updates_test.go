package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestHandleRejectedTransitionsOrderToRejected(t *testing.T) {
	store := NewOrderStore()
	store.put(openOrder("o1"))
	h := NewUpdateHandler(store, nil, nil, nil)

	h.Handle(context.Background(), OrderUpdate{
		BrokerOrderID: "BRK-o1",
		NewStatus:     StatusRejected,
		Message:       "margin shortfall",
		Timestamp:     time.Now(),
	})

	o, _ := store.Get("o1")
	if o.Status != StatusRejected || o.RejectReason != "margin shortfall" {
		t.Fatalf("unexpected order state: %+v", o)
	}
}

func TestHandleCompleteSatisfiesFillTrackerAndReconciles(t *testing.T) {
	store := NewOrderStore()
	o := openOrder("o1")
	o.CorrelationID = "corr-1"
	store.put(o)
	tracker := NewFillTracker(time.Minute)
	tracker.Register("corr-1", 1)

	var reconciled bool
	h := NewUpdateHandler(store, tracker, nil, func(ctx context.Context, o Order) { reconciled = true })

	h.Handle(context.Background(), OrderUpdate{
		BrokerOrderID: "BRK-o1",
		NewStatus:     StatusComplete,
		NewFilledQty:  10,
		AvgPrice:      decimal.RequireFromString("101.5"),
		Timestamp:     time.Now(),
	})

	updated, _ := store.Get("o1")
	if updated.Status != StatusComplete || updated.FilledQty != 10 {
		t.Fatalf("unexpected order state: %+v", updated)
	}
	if !reconciled {
		t.Fatal("expected the reconcile callback to run on COMPLETE")
	}

	select {
	case res := <-tracker.Await("corr-1"):
		if res.Err != nil {
			t.Fatalf("unexpected fill tracker error: %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the fill tracker await to be satisfied")
	}
}

func TestHandlePartialFillUpdatesStatusAndQuantity(t *testing.T) {
	store := NewOrderStore()
	store.put(openOrder("o1"))
	h := NewUpdateHandler(store, nil, nil, nil)

	h.Handle(context.Background(), OrderUpdate{
		BrokerOrderID: "BRK-o1",
		NewStatus:     StatusOpen,
		NewFilledQty:  4,
		AvgPrice:      decimal.RequireFromString("100"),
		Timestamp:     time.Now(),
	})

	o, _ := store.Get("o1")
	if o.Status != StatusPartial || o.FilledQty != 4 {
		t.Fatalf("expected a partial fill to be recorded, got %+v", o)
	}
}

func TestHandleIgnoresNonMonotonicFilledQuantity(t *testing.T) {
	store := NewOrderStore()
	o := openOrder("o1")
	o.FilledQty = 10
	store.put(o)
	h := NewUpdateHandler(store, nil, nil, nil)

	h.Handle(context.Background(), OrderUpdate{
		BrokerOrderID: "BRK-o1",
		NewStatus:     StatusOpen,
		NewFilledQty:  4,
		Timestamp:     time.Now(),
	})

	updated, _ := store.Get("o1")
	if updated.FilledQty != 10 || updated.Status != StatusOpen {
		t.Fatalf("expected the stale update to be ignored, got %+v", updated)
	}
}

func TestHandleIgnoresUpdatesForTerminalOrders(t *testing.T) {
	store := NewOrderStore()
	o := openOrder("o1")
	o.Status = StatusCancelled
	store.put(o)
	h := NewUpdateHandler(store, nil, nil, nil)

	h.Handle(context.Background(), OrderUpdate{
		BrokerOrderID: "BRK-o1",
		NewStatus:     StatusComplete,
		NewFilledQty:  10,
		Timestamp:     time.Now(),
	})

	updated, _ := store.Get("o1")
	if updated.Status != StatusCancelled {
		t.Fatalf("expected a terminal order to remain untouched, got %v", updated.Status)
	}
}

func TestHandleIgnoresUnknownBrokerOrderID(t *testing.T) {
	store := NewOrderStore()
	h := NewUpdateHandler(store, nil, nil, nil)

	// Must not panic when the broker id is not tracked.
	h.Handle(context.Background(), OrderUpdate{BrokerOrderID: "unknown", NewStatus: StatusComplete})
}

func TestNormalizeBrokerStatusMapsKnownStrings(t *testing.T) {
	cases := map[string]Status{
		"OPEN":                     StatusOpen,
		"PUT ORDER REQ RECEIVED":   StatusOpen,
		"COMPLETE":                 StatusComplete,
		"CANCELLED":                StatusCancelled,
		"REJECTED":                 StatusRejected,
		"TRIGGER PENDING":          StatusTriggerPending,
		"SOME-UNRECOGNIZED-STRING": StatusOpen,
	}
	for raw, want := range cases {
		if got := NormalizeBrokerStatus(raw); got != want {
			t.Errorf("NormalizeBrokerStatus(%q) = %v, want %v", raw, got, want)
		}
	}
}
