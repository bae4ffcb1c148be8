package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/margin"
	"github.com/quantwell/optioncore/backend/simulator"
)

func newTestSimulated() *Simulated {
	return NewSimulated(simulator.NewOrderBook(0, nil), simulator.NewPositionBook(), margin.NewEstimator())
}

func TestSimulatedPlaceOrderFillsMarketAgainstLastPrice(t *testing.T) {
	g := newTestSimulated()
	g.SetLastPrice(1, decimal.RequireFromString("100"))

	o := execution.Order{OrderRequest: execution.OrderRequest{InstrumentToken: 1, Side: execution.Buy, Type: execution.Market, Quantity: 10}, ID: "o1"}
	id, err := g.PlaceOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty broker order id")
	}
}

func TestSimulatedKillSwitchFlattensOpenPositions(t *testing.T) {
	g := newTestSimulated()
	g.positions.ApplyFill(1, "NIFTY", execution.Buy, 10, decimal.RequireFromString("100"))
	g.SetLastPrice(1, decimal.RequireFromString("110"))

	n, err := g.KillSwitch(context.Background())
	if err != nil {
		t.Fatalf("KillSwitch() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 position flattened, got %d", n)
	}

	pos, ok := g.positions.Get(1)
	if !ok || pos.Quantity != 0 {
		t.Fatalf("expected the position to be flat after KillSwitch, got %+v", pos)
	}
}

func TestSimulatedKillSwitchSkipsFlatPositions(t *testing.T) {
	g := newTestSimulated()

	n, err := g.KillSwitch(context.Background())
	if err != nil {
		t.Fatalf("KillSwitch() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 positions flattened when none are open, got %d", n)
	}
}

func TestSimulatedGetOrderMarginDelegatesToEstimator(t *testing.T) {
	g := newTestSimulated()
	req := execution.OrderRequest{Side: execution.Buy, Type: execution.Limit, Product: "MIS", Quantity: 10, LimitPrice: decimal.RequireFromString("100")}

	m, err := g.GetOrderMargin(context.Background(), req)
	if err != nil {
		t.Fatalf("GetOrderMargin() error = %v", err)
	}
	if m.IsZero() {
		t.Fatal("expected a non-zero order margin")
	}
}
