// Package simulator implements the Virtual Order Book and Virtual Position
// Book (§4.7) used for paper trading and deterministic replay.
package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/logging"
)

// Tick is the minimal per-instrument market update the order book matches
// pending orders against.
type Tick struct {
	InstrumentToken uint64
	LastPrice       decimal.Decimal
	Timestamp       time.Time
}

// FillEvent is published whenever the virtual order book fills an order.
type FillEvent struct {
	Order     execution.Order
	FillPrice decimal.Decimal
	FillQty   int64
	Source    string
	At        time.Time
}

const sourceSimulator = "simulator"

// OrderBook matches pending orders per instrument against incoming replay or
// live-feed ticks. Matching for a given instrument is atomic per tick.
type OrderBook struct {
	mu          sync.Mutex
	slippageBps int64
	pending     map[uint64][]*execution.Order // instrument token -> orders
	publisher   events.Publisher
}

// NewOrderBook builds an OrderBook with the configured slippage in basis
// points (§6 simulator.slippageBps, default 5).
func NewOrderBook(slippageBps int64, publisher events.Publisher) *OrderBook {
	if slippageBps < 0 {
		slippageBps = 5
	}
	return &OrderBook{
		slippageBps: slippageBps,
		pending:     make(map[uint64][]*execution.Order),
		publisher:   publisher,
	}
}

// Place admits an order into the book. MARKET orders fill immediately; all
// other types wait for a matching tick.
func (b *OrderBook) Place(ctx context.Context, o execution.Order, currentLast decimal.Decimal) (string, error) {
	if o.Type == execution.Market {
		if currentLast.IsZero() {
			return "", execution.ValidationFailure{Field: "price", Reason: "MARKET order has no known price"}
		}
		fillPrice := b.applySlippage(currentLast, o.Side)
		b.emitFill(ctx, o, fillPrice, o.Quantity)
		return simOrderID(o), nil
	}

	b.mu.Lock()
	copyOrder := o
	b.pending[o.InstrumentToken] = append(b.pending[o.InstrumentToken], &copyOrder)
	b.mu.Unlock()
	return simOrderID(o), nil
}

// Cancel removes a pending order from the book.
func (b *OrderBook) Cancel(instrumentToken uint64, orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders := b.pending[instrumentToken]
	for i, o := range orders {
		if o.ID == orderID {
			b.pending[instrumentToken] = append(orders[:i], orders[i+1:]...)
			return true
		}
	}
	return false
}

// OnTick matches every pending order for tick.InstrumentToken against the
// new last price, atomically for that instrument.
func (b *OrderBook) OnTick(ctx context.Context, tick Tick) {
	b.mu.Lock()
	orders := b.pending[tick.InstrumentToken]
	var remaining []*execution.Order
	var matched []*execution.Order

	for _, o := range orders {
		if fillPrice, ok := b.matches(*o, tick.LastPrice); ok {
			matched = append(matched, o)
			_ = fillPrice
		} else {
			remaining = append(remaining, o)
		}
	}
	b.pending[tick.InstrumentToken] = remaining
	b.mu.Unlock()

	for _, o := range matched {
		fillPrice, _ := b.matches(*o, tick.LastPrice)
		b.emitFill(ctx, *o, fillPrice, o.Quantity)
	}
}

// matches evaluates the §4.7 match-rule table for one order against last.
func (b *OrderBook) matches(o execution.Order, last decimal.Decimal) (decimal.Decimal, bool) {
	switch o.Type {
	case execution.Limit:
		if o.Side == execution.Buy && last.LessThanOrEqual(o.LimitPrice) {
			return o.LimitPrice, true
		}
		if o.Side == execution.Sell && last.GreaterThanOrEqual(o.LimitPrice) {
			return o.LimitPrice, true
		}
	case execution.StopLoss:
		triggered := (o.Side == execution.Buy && last.GreaterThanOrEqual(o.TriggerPrice)) ||
			(o.Side == execution.Sell && last.LessThanOrEqual(o.TriggerPrice))
		if triggered {
			if !o.LimitPrice.IsZero() {
				return o.LimitPrice, true
			}
			return last, true
		}
	case execution.StopMkt:
		triggered := (o.Side == execution.Buy && last.GreaterThanOrEqual(o.TriggerPrice)) ||
			(o.Side == execution.Sell && last.LessThanOrEqual(o.TriggerPrice))
		if triggered {
			return b.applySlippage(last, o.Side), true
		}
	}
	return decimal.Zero, false
}

func (b *OrderBook) applySlippage(last decimal.Decimal, side execution.Side) decimal.Decimal {
	slip := last.Mul(decimal.NewFromInt(b.slippageBps)).Div(decimal.NewFromInt(10000))
	if side == execution.Buy {
		return last.Add(slip)
	}
	return last.Sub(slip)
}

func (b *OrderBook) emitFill(ctx context.Context, o execution.Order, fillPrice decimal.Decimal, qty int64) {
	o.Status = execution.StatusComplete
	o.FilledQty = qty
	o.AvgPrice = fillPrice
	o.UpdatedAt = time.Now()

	if b.publisher == nil {
		return
	}
	ev := FillEvent{Order: o, FillPrice: fillPrice, FillQty: qty, Source: sourceSimulator, At: time.Now()}
	if err := b.publisher.Publish(ctx, events.SubjectOrders, ev); err != nil {
		logging.Error("simulator: failed to publish fill event", err)
	}
}

func simOrderID(o execution.Order) string {
	return "SIM-" + o.ID
}
