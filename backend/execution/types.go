// Package execution implements the order management pipeline: the router,
// the priority queue and its consumer, the amendment state machine, the
// broker update handler, the timeout monitor, the fill tracker, and the
// kill switch.
package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType selects the brokerage order style.
type OrderType string

const (
	Market   OrderType = "MARKET"
	Limit    OrderType = "LIMIT"
	StopLoss OrderType = "SL"
	StopMkt  OrderType = "SL_M"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusOpen           Status = "OPEN"
	StatusTriggerPending Status = "TRIGGER_PENDING"
	StatusPartial        Status = "PARTIAL"
	StatusComplete       Status = "COMPLETE"
	StatusCancelled      Status = "CANCELLED"
	StatusRejected       Status = "REJECTED"
)

// Terminal reports whether status cannot transition further.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// AmendmentStatus tracks an in-flight modification.
type AmendmentStatus string

const (
	AmendNone             AmendmentStatus = "NONE"
	AmendModifyRequested  AmendmentStatus = "MODIFY_REQUESTED"
	AmendModifySent       AmendmentStatus = "MODIFY_SENT"
	AmendModifyConfirmed  AmendmentStatus = "MODIFY_CONFIRMED"
	AmendModifyRejected   AmendmentStatus = "MODIFY_REJECTED"
)

// Priority ranks admitted orders; lower value drains first.
type Priority int

const (
	PriorityKillSwitch Priority = iota
	PriorityRiskExit
	PriorityStrategyExit
	PriorityStrategyAdjustment
	PriorityStrategyEntry
	PriorityManual
)

// OrderRequest is the caller-supplied intent handed to the Router.
type OrderRequest struct {
	InstrumentToken uint64
	TradingSymbol   string
	Exchange        string
	Side            Side
	Type            OrderType
	Product         string
	Quantity        int64
	LimitPrice      decimal.Decimal
	TriggerPrice    decimal.Decimal
	StrategyID      string
	CorrelationID   string
}

// Validate checks the structural preconditions from §3 of the order model.
func (r OrderRequest) Validate() error {
	if r.Quantity <= 0 {
		return ValidationFailure{Field: "quantity", Reason: "must be positive"}
	}
	if (r.Type == Limit || r.Type == StopLoss) && r.LimitPrice.IsZero() {
		return ValidationFailure{Field: "limitPrice", Reason: "required for LIMIT/SL orders"}
	}
	if (r.Type == StopLoss || r.Type == StopMkt) && r.TriggerPrice.IsZero() {
		return ValidationFailure{Field: "triggerPrice", Reason: "required for SL/SL_M orders"}
	}
	return nil
}

// Order is the domain entity owned exclusively by the execution subsystem.
type Order struct {
	OrderRequest

	ID            string
	BrokerOrderID string
	Status        Status
	FilledQty     int64
	AvgPrice      decimal.Decimal
	RejectReason  string
	Amendment     AmendmentStatus
	AmendReason   string
	PlacedAt      time.Time
	UpdatedAt     time.Time
}

// Position is the domain entity owned exclusively by the position subsystem.
type Position struct {
	InstrumentToken uint64
	Symbol          string
	Quantity        int64 // signed: positive long, negative short
	AvgPrice        decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	LastPrice       decimal.Decimal
}

// PrioritizedOrder wraps an OrderRequest with queueing metadata.
type PrioritizedOrder struct {
	Request  OrderRequest
	Priority Priority
	Seq      uint64
	Enqueued time.Time
}

// OrderUpdate is a broker push notification normalized to domain terms.
type OrderUpdate struct {
	BrokerOrderID string
	NewStatus     Status
	NewFilledQty  int64
	AvgPrice      decimal.Decimal
	Timestamp     time.Time
	Message       string
}

// EventKind enumerates the OrderEvent variants emitted to collaborators.
type EventKind string

const (
	EventPlaced    EventKind = "PLACED"
	EventFilled    EventKind = "FILLED"
	EventPartial   EventKind = "PARTIAL"
	EventRejected  EventKind = "REJECTED"
	EventCancelled EventKind = "CANCELLED"
	EventModified  EventKind = "MODIFIED"
)

// OrderEvent is the domain-entity snapshot published on every status change.
type OrderEvent struct {
	Kind           EventKind
	Order          Order
	PreviousStatus Status
	CorrelationID  string
	At             time.Time
}

// DecisionRecord is emitted by the Router for every admission or rejection.
type DecisionRecord struct {
	Accepted      bool
	OrderID       string
	Reason        string
	CorrelationID string
	At            time.Time
}
