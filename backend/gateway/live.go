package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/broker"
	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/margin"
)

// Live is the execution.Gateway variant bound to the external brokerage over
// broker.Client. Retries, circuit breaking, and rate-bucket admission are
// applied here per §4.1. The flatten orders KillSwitch places skip the rate
// buckets, the circuit breaker, and retries (they call broker.Client
// directly rather than through admit). Kill-switch cancels go through
// CancelOrder and its order bucket like any other cancel.
type Live struct {
	client *broker.Client

	readBucket  *RateBucket
	orderBucket *RateBucket
	breaker     *CircuitBreaker

	maxRetries int
	retryDelay time.Duration

	estimator *margin.Estimator
}

// NewLive builds a Live gateway. estimator backs every GetOrderMargin and
// GetBasketMargin call; the broker is not asked for margin estimates.
func NewLive(client *broker.Client, readBucket, orderBucket *RateBucket, breaker *CircuitBreaker, estimator *margin.Estimator) *Live {
	return &Live{
		client:      client,
		readBucket:  readBucket,
		orderBucket: orderBucket,
		breaker:     breaker,
		maxRetries:  2,
		retryDelay:  200 * time.Millisecond,
		estimator:   estimator,
	}
}

func (g *Live) PlaceOrder(ctx context.Context, o execution.Order) (string, error) {
	if !g.admit(g.orderBucket) {
		return "", execution.ErrRateLimited
	}
	var id string
	err := g.withRetry(func() error {
		var callErr error
		id, callErr = g.client.PlaceOrder(ctx, o.TradingSymbol, o.Exchange, string(o.Side), string(o.Type), o.Product, o.Quantity, o.LimitPrice, o.TriggerPrice)
		return callErr
	})
	return id, err
}

func (g *Live) ModifyOrder(ctx context.Context, brokerOrderID string, o execution.Order) error {
	if !g.admit(g.orderBucket) {
		return execution.ErrRateLimited
	}
	return g.withRetry(func() error {
		return g.client.ModifyOrder(ctx, brokerOrderID, o.LimitPrice, o.TriggerPrice, o.Quantity)
	})
}

func (g *Live) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if !g.admit(g.orderBucket) {
		return execution.ErrRateLimited
	}
	return g.withRetry(func() error {
		return g.client.CancelOrder(ctx, brokerOrderID)
	})
}

func (g *Live) GetOrders(ctx context.Context) ([]execution.Order, error) {
	if !g.admit(g.readBucket) {
		return nil, execution.ErrRateLimited
	}
	var snaps []broker.OrderSnapshot
	err := g.withRetry(func() error {
		var callErr error
		snaps, callErr = g.client.GetOrders(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return convertSnapshots(snaps), nil
}

func (g *Live) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]execution.Order, error) {
	if !g.admit(g.readBucket) {
		return nil, execution.ErrRateLimited
	}
	var snaps []broker.OrderSnapshot
	err := g.withRetry(func() error {
		var callErr error
		snaps, callErr = g.client.GetOrderHistory(ctx, brokerOrderID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return convertSnapshots(snaps), nil
}

func (g *Live) GetPositions(ctx context.Context) (execution.PositionsSnapshot, error) {
	if !g.admit(g.readBucket) {
		return execution.PositionsSnapshot{}, execution.ErrRateLimited
	}
	var snap broker.PositionsSnapshot
	err := g.withRetry(func() error {
		var callErr error
		snap, callErr = g.client.GetPositions(ctx)
		return callErr
	})
	if err != nil {
		return execution.PositionsSnapshot{}, err
	}
	return execution.PositionsSnapshot{Day: convertPositions(snap.Day), Net: convertPositions(snap.Net)}, nil
}

func (g *Live) GetMargins(ctx context.Context) (map[string]decimal.Decimal, error) {
	if !g.admit(g.readBucket) {
		return nil, execution.ErrRateLimited
	}
	var margins map[string]decimal.Decimal
	err := g.withRetry(func() error {
		var callErr error
		margins, callErr = g.client.GetMargins(ctx)
		return callErr
	})
	return margins, err
}

// GetOrderMargin decides per §9's open question: the broker's own estimation
// endpoint isn't modeled in broker.Client, so this always falls back to the
// local estimator rather than silently returning zero.
func (g *Live) GetOrderMargin(ctx context.Context, req execution.OrderRequest) (decimal.Decimal, error) {
	return g.estimator.OrderMargin(req), nil
}

func (g *Live) GetBasketMargin(ctx context.Context, reqs []execution.OrderRequest) (decimal.Decimal, error) {
	return g.estimator.BasketMargin(reqs), nil
}

func (g *Live) KillSwitch(ctx context.Context) (int, error) {
	// The position read goes through GetPositions and its read bucket; the
	// flatten orders below call the client directly and skip the buckets.
	positions, err := g.GetPositions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range positions.Net {
		if p.Quantity == 0 {
			continue
		}
		side := execution.Sell
		if p.Quantity < 0 {
			side = execution.Buy
		}
		qty := p.Quantity
		if qty < 0 {
			qty = -qty
		}
		if _, err := g.client.PlaceOrder(ctx, p.Symbol, "", string(side), string(execution.Market), "", qty, decimal.Zero, decimal.Zero); err == nil {
			count++
		}
	}
	return count, nil
}

func (g *Live) admit(bucket *RateBucket) bool {
	if bucket == nil {
		return true
	}
	return bucket.Allow()
}

func (g *Live) withRetry(call func() error) error {
	if g.breaker != nil && !g.breaker.Allow() {
		return execution.ErrBrokerUnavailable
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		err := call()
		if err == nil {
			if g.breaker != nil {
				g.breaker.RecordSuccess()
			}
			return nil
		}

		translated := translate(err)
		lastErr = translated

		// Only transport-layer failures are retried; semantic rejections and
		// session/rate-limit conditions are surfaced immediately (§7).
		if !errors.Is(translated, execution.ErrBrokerUnavailable) {
			return translated
		}
		if g.breaker != nil {
			g.breaker.RecordFailure()
		}
		if attempt < g.maxRetries {
			time.Sleep(g.retryDelay * time.Duration(attempt+1))
		}
	}
	return lastErr
}

func convertSnapshots(snaps []broker.OrderSnapshot) []execution.Order {
	out := make([]execution.Order, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, execution.Order{
			OrderRequest: execution.OrderRequest{
				TradingSymbol: s.Symbol,
				Exchange:      s.Exchange,
				Side:          execution.Side(s.Side),
				Type:          execution.OrderType(s.Type),
				Product:       s.Product,
				Quantity:      s.Quantity,
				LimitPrice:    s.Price,
				TriggerPrice:  s.TriggerPrice,
			},
			BrokerOrderID: s.BrokerOrderID,
			Status:        execution.NormalizeBrokerStatus(s.Status),
			FilledQty:     s.FilledQuantity,
			AvgPrice:      s.AveragePrice,
			UpdatedAt:     s.Timestamp,
		})
	}
	return out
}

func convertPositions(snaps []broker.PositionSnapshot) []execution.Position {
	out := make([]execution.Position, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, execution.Position{
			InstrumentToken: s.InstrumentToken,
			Symbol:          s.Symbol,
			Quantity:        s.Quantity,
			AvgPrice:        s.AveragePrice,
			RealizedPnL:     s.RealizedPnL,
			UnrealizedPnL:   s.UnrealizedPnL,
			LastPrice:       s.LastPrice,
		})
	}
	return out
}
