package execution

import (
	"context"

	"github.com/shopspring/decimal"
)

// PositionsSnapshot groups the broker's day and net position lists (§4.1).
type PositionsSnapshot struct {
	Day []Position
	Net []Position
}

// Gateway is the polymorphic brokerage boundary (§4.1). Every method either
// returns a typed result or fails with one of ErrBrokerUnavailable,
// BrokerRejected, ErrSessionExpired, or ErrRateLimited.
type Gateway interface {
	PlaceOrder(ctx context.Context, o Order) (brokerOrderID string, err error)
	ModifyOrder(ctx context.Context, brokerOrderID string, o Order) error
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrders(ctx context.Context) ([]Order, error)
	GetOrderHistory(ctx context.Context, brokerOrderID string) ([]Order, error)
	GetPositions(ctx context.Context) (PositionsSnapshot, error)
	GetMargins(ctx context.Context) (map[string]decimal.Decimal, error)
	GetOrderMargin(ctx context.Context, req OrderRequest) (decimal.Decimal, error)
	GetBasketMargin(ctx context.Context, reqs []OrderRequest) (decimal.Decimal, error)
	KillSwitch(ctx context.Context) (actionCount int, err error)
}
