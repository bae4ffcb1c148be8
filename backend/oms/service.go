// Package oms wires the execution core's collaborators into a single
// runnable System, adapted from the teacher's oms.Service facade shape
// (one entry point owning the order/position stores) but delegating each
// concern to its own package rather than holding all state inline.
package oms

import (
	"context"
	"sync"
	"time"

	"github.com/quantwell/optioncore/backend/condition"
	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/session"
	"github.com/quantwell/optioncore/backend/subscription"
	"github.com/quantwell/optioncore/backend/ticks"
)

// Mode selects whether the System trades against the real broker or the
// in-memory simulator.
type Mode string

const (
	ModeLive      Mode = "LIVE"
	ModeSimulator Mode = "SIMULATOR"
)

// System is the top-level facade: Router/Queue/Consumer feeding a
// polymorphic Gateway, plus the Session Coordinator, Subscription Manager,
// Condition Engine, Timeout Monitor, Kill Switch and Tick Recorder running
// alongside it.
type System struct {
	Mode Mode

	Publisher    events.Publisher
	Router       *execution.Router
	Queue        *execution.PriorityQueue
	Consumer     *execution.Consumer
	Gateway      execution.Gateway
	Store        *execution.OrderStore
	Amendments   *execution.AmendmentMachine
	Updates      *execution.UpdateHandler
	Timeouts     *execution.TimeoutMonitor
	FillTracker  *execution.FillTracker
	KillSwitch   *execution.KillSwitch
	Sessions     *session.Coordinator
	Subscriptions *subscription.Manager
	Conditions   *condition.Engine
	Recorder     *ticks.Recorder

	wg sync.WaitGroup
}

// Start launches the long-running workers (consumer, timeout monitor,
// recorder flush loop) on their own goroutines and starts the session
// coordinator. It does not run the condition engine's interval loop
// (Conditions.RunIntervalLoop).
func (s *System) Start(ctx context.Context) {
	if s.Consumer != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.Consumer.Run(ctx) }()
	}
	if s.Timeouts != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.Timeouts.Run(ctx) }()
	}
	if s.Recorder != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.Recorder.Run(ctx) }()
	}
	if s.Sessions != nil {
		s.Sessions.Start(ctx)
	}
}

// Shutdown implements the §5 cancellation sequence: stop the consumer after
// its current call returns, drain the queue synchronously, stop the timeout
// monitor, flush the recorder, then close the broker channel.
func (s *System) Shutdown(ctx context.Context) {
	if s.Consumer != nil {
		s.Consumer.Stop()
		s.Consumer.Wait()
	}
	if s.Queue != nil {
		s.Queue.Drain()
		s.Queue.Close()
	}
	if s.Timeouts != nil {
		s.Timeouts.Stop()
	}
	if s.Recorder != nil {
		s.Recorder.Stop(ctx)
	}
	if s.Conditions != nil {
		s.Conditions.Stop()
	}
	if closer, ok := s.Gateway.(interface{ Close() error }); ok {
		closer.Close()
	}
	s.wg.Wait()
}

// PlaceOrder is the single admission point (§4.2): register the fill await
// before routing (closing the fill-before-await race per §5), then admit
// the order through the Router.
func (s *System) PlaceOrder(ctx context.Context, req execution.OrderRequest, priority execution.Priority, correlationID string, legCount int) execution.DecisionRecord {
	if s.FillTracker != nil && correlationID != "" {
		s.FillTracker.Register(correlationID, legCount)
	}
	return s.Router.Admit(ctx, req, priority)
}

// AwaitFills blocks for correlationID's registered legs to complete or time
// out (default 2 minutes, enforced inside FillTracker).
func (s *System) AwaitFills(correlationID string) <-chan execution.FillResult {
	return s.FillTracker.Await(correlationID)
}

// ActivateKillSwitch flattens all positions and halts new admissions.
func (s *System) ActivateKillSwitch(ctx context.Context) (int, error) {
	return s.KillSwitch.Activate(ctx)
}

const defaultFillTimeout = 2 * time.Minute
