package execution

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/logging"
)

// KillSwitch flips a process-wide flag that blocks new non-emergency
// admission (checked by Router.Admit) and drives cancel-all/flatten-all.
type KillSwitch struct {
	active    atomic.Bool
	store     *OrderStore
	gateway   Gateway
	publisher events.Publisher
}

// NewKillSwitch wires the kill switch's collaborators.
func NewKillSwitch(store *OrderStore, gateway Gateway, publisher events.Publisher) *KillSwitch {
	return &KillSwitch{store: store, gateway: gateway, publisher: publisher}
}

// Active reports whether the kill switch is currently engaged.
func (k *KillSwitch) Active() bool { return k.active.Load() }

// Activate engages the kill switch and best-effort cancels every non-terminal
// order and flattens every position via the gateway's KillSwitch call.
// Per-order failures are logged but never short-circuit the rest (§7).
func (k *KillSwitch) Activate(ctx context.Context) (actionCount int, err error) {
	k.active.Store(true)
	k.emitSystemDecision(ctx, "kill switch activated")

	for _, o := range k.store.All() {
		if o.Status.Terminal() {
			continue
		}
		if cerr := k.gateway.CancelOrder(ctx, o.BrokerOrderID); cerr != nil {
			logging.Error("kill switch: cancel failed, continuing", cerr, logging.String("orderId", o.ID))
			continue
		}
		actionCount++
	}

	n, gerr := k.gateway.KillSwitch(ctx)
	actionCount += n
	if gerr != nil {
		logging.Error("kill switch: gateway flatten call failed", gerr)
	}
	return actionCount, gerr
}

// Deactivate disengages the kill switch, resuming normal admission.
func (k *KillSwitch) Deactivate(ctx context.Context) {
	k.active.Store(false)
	k.emitSystemDecision(ctx, "kill switch deactivated")
}

func (k *KillSwitch) emitSystemDecision(ctx context.Context, reason string) {
	if k.publisher == nil {
		return
	}
	dr := DecisionRecord{Accepted: true, Reason: reason, At: time.Now()}
	k.publisher.Publish(ctx, events.SubjectOrders, dr)
}
