package execution

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/logging"
)

// RiskGate is the externally supplied predicate from §4.2 step 3. It returns
// a non-empty reason to reject the request, or "" to allow it through.
type RiskGate func(ctx context.Context, req OrderRequest) (reason string)

// Router is the single admission point for every order entering the system.
type Router struct {
	idempotency *IdempotencyStore
	riskGate    RiskGate
	queue       *PriorityQueue
	publisher   events.Publisher
	metrics     *Metrics
	killSwitch  *KillSwitch

	seq atomic.Uint64
}

// NewRouter wires the Router's pipeline collaborators. riskGate may be nil,
// in which case the risk gate always allows.
func NewRouter(idempotency *IdempotencyStore, riskGate RiskGate, queue *PriorityQueue, publisher events.Publisher, metrics *Metrics, killSwitch *KillSwitch) *Router {
	if riskGate == nil {
		riskGate = func(context.Context, OrderRequest) string { return "" }
	}
	return &Router{
		idempotency: idempotency,
		riskGate:    riskGate,
		queue:       queue,
		publisher:   publisher,
		metrics:     metrics,
		killSwitch:  killSwitch,
	}
}

// Admit runs the §4.2 pipeline for a single order request at the given
// priority. It never blocks on the broker.
func (r *Router) Admit(ctx context.Context, req OrderRequest, priority Priority) DecisionRecord {
	now := time.Now()
	corrID := req.CorrelationID
	if corrID == "" {
		corrID = uuid.NewString()
	}

	reject := func(reason string) DecisionRecord {
		dr := DecisionRecord{Accepted: false, Reason: reason, CorrelationID: corrID, At: now}
		r.emitDecision(ctx, dr)
		if r.metrics != nil {
			r.metrics.RejectionTotal.WithLabelValues(reason).Inc()
		}
		return dr
	}

	if err := req.Validate(); err != nil {
		return reject(err.Error())
	}

	if r.killSwitch != nil && r.killSwitch.Active() && priority != PriorityKillSwitch {
		return reject(KillSwitchActive{}.Error())
	}

	key := r.idempotency.Key(req)
	if seen, err := r.idempotency.Seen(ctx, key); err != nil {
		logging.Error("router: idempotency lookup failed", err)
	} else if seen {
		return reject(IdempotencyDuplicate{Key: key}.Error())
	}

	if reason := r.riskGate(ctx, req); reason != "" {
		return reject(reason)
	}

	seq := r.seq.Add(1)
	po := PrioritizedOrder{Request: req, Priority: priority, Seq: seq, Enqueued: now}
	r.queue.Push(po)

	if err := r.idempotency.Mark(ctx, key); err != nil {
		logging.Error("router: idempotency mark failed", err)
	}

	if r.metrics != nil {
		r.metrics.AdmissionTotal.Inc()
		r.metrics.QueueDepth.Inc()
	}

	dr := DecisionRecord{Accepted: true, CorrelationID: corrID, At: now}
	r.emitDecision(ctx, dr)
	return dr
}

func (r *Router) emitDecision(ctx context.Context, dr DecisionRecord) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, events.SubjectOrders, dr); err != nil {
		logging.Error("router: failed to publish decision record", err)
	}
}
