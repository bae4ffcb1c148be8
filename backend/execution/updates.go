package execution

import (
	"context"
	"time"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/logging"
)

// ReconcileFunc is invoked on COMPLETE to reconcile positions, avoiding
// rapid churn on partials (§4.5).
type ReconcileFunc func(ctx context.Context, o Order)

// UpdateHandler consumes asynchronous broker order notifications, which may
// fire from any goroutine, and applies the decision table from §4.5.
type UpdateHandler struct {
	store     *OrderStore
	tracker   *FillTracker
	publisher events.Publisher
	reconcile ReconcileFunc
}

// NewUpdateHandler wires the handler's collaborators. tracker and reconcile
// may be nil.
func NewUpdateHandler(store *OrderStore, tracker *FillTracker, publisher events.Publisher, reconcile ReconcileFunc) *UpdateHandler {
	return &UpdateHandler{store: store, tracker: tracker, publisher: publisher, reconcile: reconcile}
}

// Handle applies one broker update. Safe to call concurrently from many
// goroutines; OrderStore serializes the mutation.
func (h *UpdateHandler) Handle(ctx context.Context, u OrderUpdate) {
	o, ok := h.store.GetByBrokerID(u.BrokerOrderID)
	if !ok {
		logging.Debug("update handler: unknown broker order id, ignoring", logging.String("brokerOrderId", u.BrokerOrderID))
		return
	}
	if o.Status.Terminal() {
		return
	}

	prev := o.Status

	switch {
	case u.NewStatus == StatusRejected:
		updated, _ := h.store.mutateByBroker(u.BrokerOrderID, func(o *Order) {
			o.Status = StatusRejected
			o.RejectReason = u.Message
			o.UpdatedAt = u.Timestamp
		})
		h.emit(ctx, EventRejected, updated, prev)

	case u.NewStatus == StatusComplete && u.NewFilledQty > o.FilledQty:
		updated, _ := h.store.mutateByBroker(u.BrokerOrderID, func(o *Order) {
			o.FilledQty = u.NewFilledQty
			o.AvgPrice = u.AvgPrice
			o.Status = StatusComplete
			o.UpdatedAt = u.Timestamp
		})
		h.emit(ctx, EventFilled, updated, prev)
		if h.tracker != nil {
			h.tracker.Satisfy(updated)
		}
		if h.reconcile != nil {
			h.reconcile(ctx, updated)
		}

	case !statusIsTerminalLike(u.NewStatus) && u.NewFilledQty > o.FilledQty:
		updated, _ := h.store.mutateByBroker(u.BrokerOrderID, func(o *Order) {
			o.FilledQty = u.NewFilledQty
			o.AvgPrice = u.AvgPrice
			o.Status = StatusPartial
			o.UpdatedAt = u.Timestamp
		})
		h.emit(ctx, EventPartial, updated, prev)
		if h.tracker != nil {
			h.tracker.Progress(updated)
		}

	default:
		// No change: status string recognized but no monotonic progress
		// (idempotency guard from §4.5).
	}
}

func statusIsTerminalLike(s Status) bool {
	return s.Terminal()
}

func (h *UpdateHandler) emit(ctx context.Context, kind EventKind, o Order, prev Status) {
	if h.publisher == nil {
		return
	}
	ev := OrderEvent{Kind: kind, Order: o, PreviousStatus: prev, At: time.Now()}
	if err := h.publisher.Publish(ctx, events.SubjectOrders, ev); err != nil {
		logging.Error("update handler: failed to publish order event", err)
	}
}

// NormalizeBrokerStatus maps the raw broker push status strings from §6 to
// the domain Status.
func NormalizeBrokerStatus(raw string) Status {
	switch raw {
	case "OPEN", "UPDATE", "PUT ORDER REQ RECEIVED":
		return StatusOpen
	case "COMPLETE":
		return StatusComplete
	case "CANCELLED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	case "TRIGGER PENDING":
		return StatusTriggerPending
	default:
		return StatusOpen
	}
}
