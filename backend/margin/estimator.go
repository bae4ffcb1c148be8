// Package margin implements the Margin Service + Estimator (§2): TTL-cached
// lookups and a basket-margin estimate for getOrderMargin/getBasketMargin,
// decided in DESIGN.md's Open Question resolution to be a real, usable
// approximation rather than a zero stub.
package margin

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/cache"
	"github.com/quantwell/optioncore/backend/execution"
)

// marginPercentByProduct is a deliberately coarse SPAN-style approximation:
// notional * percent. It is a placeholder for the broker's real margin
// engine, not a replacement for it. The Live gateway uses it for every
// margin estimate; it does not call the broker for them.
var marginPercentByProduct = map[string]decimal.Decimal{
	"MIS":  decimal.NewFromFloat(0.20),
	"NRML": decimal.NewFromFloat(0.35),
	"CNC":  decimal.NewFromFloat(1.0),
}

const basketOffsetDiscount = 0.10 // 10% discount per offsetting leg pair

// Estimator computes approximate order and basket margin requirements.
type Estimator struct{}

// NewEstimator returns a ready Estimator.
func NewEstimator() *Estimator { return &Estimator{} }

// OrderMargin approximates the margin required for a single order request.
func (e *Estimator) OrderMargin(req execution.OrderRequest) decimal.Decimal {
	price := req.LimitPrice
	if price.IsZero() {
		price = req.TriggerPrice
	}
	notional := price.Mul(decimal.NewFromInt(req.Quantity))
	pct, ok := marginPercentByProduct[req.Product]
	if !ok {
		pct = decimal.NewFromFloat(0.35)
	}
	return notional.Mul(pct).Abs()
}

// BasketMargin sums the individual order margins and applies a flat discount
// per offsetting buy/sell pair on the same instrument, approximating the
// margin benefit a real broker basket-margin call would compute.
func (e *Estimator) BasketMargin(reqs []execution.OrderRequest) decimal.Decimal {
	total := decimal.Zero
	bySide := map[uint64]map[execution.Side]int{}

	for _, r := range reqs {
		total = total.Add(e.OrderMargin(r))
		if bySide[r.InstrumentToken] == nil {
			bySide[r.InstrumentToken] = map[execution.Side]int{}
		}
		bySide[r.InstrumentToken][r.Side]++
	}

	offsettingPairs := 0
	for _, sides := range bySide {
		buys, sells := sides[execution.Buy], sides[execution.Sell]
		if buys > 0 && sells > 0 {
			if buys < sells {
				offsettingPairs += buys
			} else {
				offsettingPairs += sells
			}
		}
	}

	if offsettingPairs > 0 {
		discount := decimal.NewFromFloat(basketOffsetDiscount).Mul(decimal.NewFromInt(int64(offsettingPairs)))
		if discount.GreaterThan(decimal.NewFromFloat(0.5)) {
			discount = decimal.NewFromFloat(0.5) // never discount more than half
		}
		total = total.Mul(decimal.NewFromInt(1).Sub(discount))
	}

	return total
}

// Service TTL-caches margin lookups (both broker-fetched and estimated) keyed
// by account, grounded on the teacher's risk.margin.go per-account shape.
type Service struct {
	backing   cache.Cache
	ttl       time.Duration
	estimator *Estimator
	sink      Sink
}

// NewService wires a Service over the given backing cache with the given
// TTL (commonly a few seconds, since margin figures move with positions).
// sink may be nil, in which case audit records are discarded.
func NewService(backing cache.Cache, ttl time.Duration, estimator *Estimator, sink Sink) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &Service{backing: backing, ttl: ttl, estimator: estimator, sink: sink}
}

// EstimateBasket computes the basket margin via the Estimator and records an
// audit entry of the check, best-effort (a sink failure never blocks the
// caller's admission decision).
func (s *Service) EstimateBasket(ctx context.Context, accountID string, reqs []execution.OrderRequest) decimal.Decimal {
	m := s.estimator.BasketMargin(reqs)
	_ = s.sink.Record(ctx, AuditRecord{AccountID: accountID, Requests: reqs, Margin: m, At: time.Now()})
	return m
}

// Margins returns the cached margin map for accountID, calling fetch on a
// cache miss.
func (s *Service) Margins(ctx context.Context, accountID string, fetch func(ctx context.Context) (map[string]decimal.Decimal, error)) (map[string]decimal.Decimal, error) {
	key := cache.CacheKey(cache.NS_Accounts, "margins:"+accountID)

	if v, err := s.backing.Get(ctx, key); err == nil {
		if m, ok := v.(map[string]decimal.Decimal); ok {
			return m, nil
		}
	}

	m, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.backing.Set(ctx, key, m, s.ttl)
	return m, nil
}
