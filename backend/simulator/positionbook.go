package simulator

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/execution"
)

// PositionBook listens to simulator-sourced fills and replay ticks, tracking
// signed quantity, VWAP average price, realized and unrealized P&L per §4.7.
type PositionBook struct {
	mu        sync.Mutex
	positions map[uint64]*execution.Position
}

// NewPositionBook returns an empty PositionBook.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[uint64]*execution.Position)}
}

// ApplyFill updates the position for instrumentToken/symbol with a fill of
// signed direction side and returns the updated position snapshot.
func (pb *PositionBook) ApplyFill(instrumentToken uint64, symbol string, side execution.Side, qty int64, fillPrice decimal.Decimal) execution.Position {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pos, ok := pb.positions[instrumentToken]
	if !ok {
		pos = &execution.Position{InstrumentToken: instrumentToken, Symbol: symbol}
		pb.positions[instrumentToken] = pos
	}

	signedAdd := qty
	if side == execution.Sell {
		signedAdd = -qty
	}

	prevQty := pos.Quantity
	newQty := prevQty + signedAdd

	switch {
	case prevQty == 0:
		pos.Quantity = newQty
		pos.AvgPrice = fillPrice

	case newQty == 0:
		closedQty := abs(prevQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(closeSegmentPnL(prevQty, pos.AvgPrice, fillPrice, closedQty))
		pos.Quantity = 0
		pos.AvgPrice = decimal.Zero

	case sameSign(prevQty, signedAdd):
		// Same-direction add -> VWAP re-weight.
		absPrev := abs(prevQty)
		absAdd := abs(signedAdd)
		num := decimal.NewFromInt(absPrev).Mul(pos.AvgPrice).Add(decimal.NewFromInt(absAdd).Mul(fillPrice))
		den := decimal.NewFromInt(absPrev + absAdd)
		if !den.IsZero() {
			pos.AvgPrice = num.Div(den)
		}
		pos.Quantity = newQty

	case sameSign(prevQty, newQty):
		// Reducing fill that keeps the original sign -> realize the closed
		// portion, average price unchanged.
		closedQty := abs(signedAdd)
		pos.RealizedPnL = pos.RealizedPnL.Add(closeSegmentPnL(prevQty, pos.AvgPrice, fillPrice, closedQty))
		pos.Quantity = newQty

	default:
		// Sign flip: close the entire prior position, open the remainder at
		// the fill price.
		closedQty := abs(prevQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(closeSegmentPnL(prevQty, pos.AvgPrice, fillPrice, closedQty))
		pos.Quantity = newQty
		pos.AvgPrice = fillPrice
	}

	return *pos
}

// OnTick updates lastPrice and unrealized P&L for a held instrument.
func (pb *PositionBook) OnTick(instrumentToken uint64, lastPrice decimal.Decimal) (execution.Position, bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pos, ok := pb.positions[instrumentToken]
	if !ok || pos.Quantity == 0 {
		return execution.Position{}, false
	}

	pos.LastPrice = lastPrice
	sign := decimal.NewFromInt(1)
	if pos.Quantity < 0 {
		sign = decimal.NewFromInt(-1)
	}
	pos.UnrealizedPnL = sign.Mul(lastPrice.Sub(pos.AvgPrice)).Mul(decimal.NewFromInt(abs(pos.Quantity)))
	return *pos, true
}

// Get returns a copy of the position for instrumentToken, if any.
func (pb *PositionBook) Get(instrumentToken uint64) (execution.Position, bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pos, ok := pb.positions[instrumentToken]
	if !ok {
		return execution.Position{}, false
	}
	return *pos, true
}

// All returns a snapshot of every tracked position.
func (pb *PositionBook) All() []execution.Position {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	out := make([]execution.Position, 0, len(pb.positions))
	for _, p := range pb.positions {
		out = append(out, *p)
	}
	return out
}

// closeSegmentPnL computes realized P&L for closing `closedQty` of a
// position whose prior signed quantity was priorSign*|prior| at avgPrice,
// against fillPrice: long close = (fill-avg)*closed, short close =
// (avg-fill)*closed.
func closeSegmentPnL(priorQty int64, avgPrice, fillPrice decimal.Decimal, closedQty int64) decimal.Decimal {
	diff := fillPrice.Sub(avgPrice)
	if priorQty < 0 {
		diff = avgPrice.Sub(fillPrice)
	}
	return diff.Mul(decimal.NewFromInt(closedQty))
}

func sameSign(a, b int64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
