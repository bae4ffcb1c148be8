package execution

import (
	"context"
	"time"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/logging"
)

// TimeoutMonitor cancels orders that have sat non-terminal past their
// type-specific deadline (§4.6). It ticks every 5 seconds.
type TimeoutMonitor struct {
	store     *OrderStore
	gateway   Gateway
	calendar  Calendar
	publisher events.Publisher

	marketTimeout time.Duration
	limitTimeout  time.Duration

	interval time.Duration
	stop     chan struct{}
}

// NewTimeoutMonitor wires the monitor. marketTimeout/limitTimeout default to
// 10s/30s per §6 when zero.
func NewTimeoutMonitor(store *OrderStore, gateway Gateway, calendar Calendar, publisher events.Publisher, marketTimeout, limitTimeout time.Duration) *TimeoutMonitor {
	if marketTimeout <= 0 {
		marketTimeout = 10 * time.Second
	}
	if limitTimeout <= 0 {
		limitTimeout = 30 * time.Second
	}
	return &TimeoutMonitor{
		store:         store,
		gateway:       gateway,
		calendar:      calendar,
		publisher:     publisher,
		marketTimeout: marketTimeout,
		limitTimeout:  limitTimeout,
		interval:      5 * time.Second,
		stop:          make(chan struct{}),
	}
}

// Run blocks on a 5-second ticker until Stop is called.
func (m *TimeoutMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *TimeoutMonitor) sweep(ctx context.Context) {
	now := time.Now()
	for _, o := range m.store.All() {
		if o.Status.Terminal() {
			continue
		}

		timeout := m.timeoutFor(o, now)
		if timeout <= 0 || now.Sub(o.PlacedAt) <= timeout {
			continue
		}

		if err := m.gateway.CancelOrder(ctx, o.BrokerOrderID); err != nil {
			logging.Error("timeout monitor: cancel failed, will retry next tick", err,
				logging.String("orderId", o.ID))
			continue
		}

		prev := o.Status
		updated, ok := m.store.mutate(o.ID, func(o *Order) {
			o.Status = StatusCancelled
			o.UpdatedAt = time.Now()
		})
		if !ok {
			continue
		}
		m.emit(ctx, updated, prev)
	}
}

func (m *TimeoutMonitor) timeoutFor(o Order, now time.Time) time.Duration {
	switch o.Type {
	case Market:
		return m.marketTimeout
	case Limit:
		return m.limitTimeout
	case StopLoss, StopMkt:
		if m.calendar == nil {
			return 0
		}
		return m.calendar.MinutesToClose(now)
	default:
		return 0
	}
}

func (m *TimeoutMonitor) emit(ctx context.Context, o Order, prev Status) {
	if m.publisher == nil {
		return
	}
	ev := OrderEvent{Kind: EventCancelled, Order: o, PreviousStatus: prev, At: time.Now()}
	if err := m.publisher.Publish(ctx, events.SubjectOrders, ev); err != nil {
		logging.Error("timeout monitor: failed to publish order event", err)
	}
}

// Stop halts Run. Safe to call once.
func (m *TimeoutMonitor) Stop() {
	close(m.stop)
}
