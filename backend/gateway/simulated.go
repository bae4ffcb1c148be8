package gateway

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/margin"
	"github.com/quantwell/optioncore/backend/simulator"
)

// Simulated is the execution.Gateway variant that delegates straight to the
// Virtual Order Book / Virtual Position Book (§4.7), used for paper trading
// and deterministic replay.
type Simulated struct {
	book      *simulator.OrderBook
	positions *simulator.PositionBook
	estimator *margin.Estimator

	mu        sync.RWMutex
	lastPrice map[uint64]decimal.Decimal
	cancelled map[string]bool
}

// NewSimulated wires a Simulated gateway over book/positions.
func NewSimulated(book *simulator.OrderBook, positions *simulator.PositionBook, estimator *margin.Estimator) *Simulated {
	return &Simulated{
		book:      book,
		positions: positions,
		estimator: estimator,
		lastPrice: make(map[uint64]decimal.Decimal),
		cancelled: make(map[string]bool),
	}
}

// SetLastPrice lets the replay/live feed adapter record the most recent
// price per instrument so MARKET orders have something to fill against.
func (g *Simulated) SetLastPrice(instrumentToken uint64, price decimal.Decimal) {
	g.mu.Lock()
	g.lastPrice[instrumentToken] = price
	g.mu.Unlock()
}

func (g *Simulated) PlaceOrder(ctx context.Context, o execution.Order) (string, error) {
	g.mu.RLock()
	last := g.lastPrice[o.InstrumentToken]
	g.mu.RUnlock()
	return g.book.Place(ctx, o, last)
}

func (g *Simulated) ModifyOrder(ctx context.Context, brokerOrderID string, o execution.Order) error {
	// The virtual book holds orders by value; the simplest faithful
	// modification is cancel-then-replace, which preserves the amendment
	// machine's external contract.
	g.book.Cancel(o.InstrumentToken, o.ID)
	_, err := g.book.Place(ctx, o, decimal.Zero)
	return err
}

func (g *Simulated) CancelOrder(ctx context.Context, brokerOrderID string) error {
	g.cancelled[brokerOrderID] = true
	return nil
}

func (g *Simulated) GetOrders(ctx context.Context) ([]execution.Order, error) {
	return nil, nil
}

func (g *Simulated) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]execution.Order, error) {
	return nil, nil
}

func (g *Simulated) GetPositions(ctx context.Context) (execution.PositionsSnapshot, error) {
	all := g.positions.All()
	return execution.PositionsSnapshot{Day: all, Net: all}, nil
}

func (g *Simulated) GetMargins(ctx context.Context) (map[string]decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range g.positions.All() {
		total = total.Add(p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)).Abs())
	}
	return map[string]decimal.Decimal{"equity": total}, nil
}

func (g *Simulated) GetOrderMargin(ctx context.Context, req execution.OrderRequest) (decimal.Decimal, error) {
	return g.estimator.OrderMargin(req), nil
}

func (g *Simulated) GetBasketMargin(ctx context.Context, reqs []execution.OrderRequest) (decimal.Decimal, error) {
	return g.estimator.BasketMargin(reqs), nil
}

// KillSwitch flattens every non-zero simulated position immediately at its
// last known price.
func (g *Simulated) KillSwitch(ctx context.Context) (int, error) {
	count := 0
	for _, p := range g.positions.All() {
		if p.Quantity == 0 {
			continue
		}
		side := execution.Sell
		qty := p.Quantity
		if qty < 0 {
			side = execution.Buy
			qty = -qty
		}
		g.mu.RLock()
		last := g.lastPrice[p.InstrumentToken]
		g.mu.RUnlock()
		if last.IsZero() {
			last = p.LastPrice
		}
		g.positions.ApplyFill(p.InstrumentToken, p.Symbol, side, qty, last)
		count++
	}
	return count, nil
}
