package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/events"
)

// AmendmentRequest carries the optional new values for an in-flight modify.
// A nil field means "leave unchanged".
type AmendmentRequest struct {
	Price    *decimal.Decimal
	Trigger  *decimal.Decimal
	Quantity *int64
}

// AmendmentMachine drives the NONE -> MODIFY_REQUESTED -> MODIFY_SENT ->
// (MODIFY_CONFIRMED|MODIFY_REJECTED) -> NONE lifecycle from §4.4.
type AmendmentMachine struct {
	store     *OrderStore
	gateway   Gateway
	publisher events.Publisher
}

// NewAmendmentMachine wires the state machine's collaborators.
func NewAmendmentMachine(store *OrderStore, gateway Gateway, publisher events.Publisher) *AmendmentMachine {
	return &AmendmentMachine{store: store, gateway: gateway, publisher: publisher}
}

// Request validates preconditions, transitions to MODIFY_REQUESTED then
// MODIFY_SENT, and calls the gateway. On success the order stays MODIFY_SENT
// until the broker's confirmation arrives through AmendmentMachine.Confirm or
// Reject. On gateway failure the amendment is rejected immediately.
func (m *AmendmentMachine) Request(ctx context.Context, orderID string, req AmendmentRequest) error {
	o, ok := m.store.Get(orderID)
	if !ok {
		return ValidationFailure{Field: "orderId", Reason: "not found"}
	}

	if err := preconditions(o, req); err != nil {
		return err
	}

	if _, ok := m.store.mutate(orderID, func(o *Order) {
		o.Amendment = AmendModifyRequested
		o.UpdatedAt = time.Now()
	}); !ok {
		return ValidationFailure{Field: "orderId", Reason: "not found"}
	}

	updated := o
	if req.Price != nil {
		updated.LimitPrice = *req.Price
	}
	if req.Trigger != nil {
		updated.TriggerPrice = *req.Trigger
	}
	if req.Quantity != nil {
		updated.Quantity = *req.Quantity
	}

	m.store.mutate(orderID, func(o *Order) {
		o.Amendment = AmendModifySent
		o.UpdatedAt = time.Now()
	})

	if err := m.gateway.ModifyOrder(ctx, o.BrokerOrderID, updated); err != nil {
		m.Reject(ctx, orderID, err.Error())
		return err
	}
	return nil
}

// Confirm applies the new values and resets the amendment state to NONE.
func (m *AmendmentMachine) Confirm(ctx context.Context, orderID string, req AmendmentRequest) {
	o, ok := m.store.mutate(orderID, func(o *Order) {
		if req.Price != nil {
			o.LimitPrice = *req.Price
		}
		if req.Trigger != nil {
			o.TriggerPrice = *req.Trigger
		}
		if req.Quantity != nil {
			o.Quantity = *req.Quantity
		}
		o.Amendment = AmendModifyConfirmed
		o.UpdatedAt = time.Now()
	})
	if !ok {
		return
	}
	m.store.mutate(orderID, func(o *Order) { o.Amendment = AmendNone })
	m.emit(ctx, o)
}

// Reject preserves the order's original parameters and records the reason.
func (m *AmendmentMachine) Reject(ctx context.Context, orderID string, reason string) {
	o, ok := m.store.mutate(orderID, func(o *Order) {
		o.Amendment = AmendModifyRejected
		o.AmendReason = reason
		o.UpdatedAt = time.Now()
	})
	if !ok {
		return
	}
	m.emit(ctx, o)
}

func (m *AmendmentMachine) emit(ctx context.Context, o Order) {
	if m.publisher == nil {
		return
	}
	ev := OrderEvent{Kind: EventModified, Order: o, At: time.Now()}
	m.publisher.Publish(ctx, events.SubjectOrders, ev)
}

func preconditions(o Order, req AmendmentRequest) error {
	if o.Status != StatusOpen && o.Status != StatusTriggerPending {
		return ValidationFailure{Field: "status", Reason: "order not modifiable"}
	}
	if o.Amendment == AmendModifyRequested || o.Amendment == AmendModifySent {
		return ValidationFailure{Field: "amendment", Reason: "amendment already in flight"}
	}
	if req.Price == nil && req.Trigger == nil && req.Quantity == nil {
		return ValidationFailure{Field: "amendment", Reason: "at least one of price, trigger, quantity required"}
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return ValidationFailure{Field: "price", Reason: "must be positive"}
	}
	if req.Trigger != nil && !req.Trigger.IsPositive() {
		return ValidationFailure{Field: "trigger", Reason: "must be positive"}
	}
	if req.Quantity != nil {
		if *req.Quantity <= 0 {
			return ValidationFailure{Field: "quantity", Reason: "must be positive"}
		}
		if *req.Quantity <= o.FilledQty {
			return ValidationFailure{Field: "quantity", Reason: "new quantity must exceed filled quantity"}
		}
	}
	return nil
}
