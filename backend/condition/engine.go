// Package condition implements the Condition Engine (§4.10): rule
// evaluation, crossing detection, cooldown, and trigger-count gating,
// directly adapted from the teacher's backend/internal/alerts engine
// (AlertRule -> ConditionRule, ticker-driven evaluation, cooldown tracker).
package condition

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/logging"
)

type Operator string

const (
	OpGT            Operator = "GT"
	OpLT            Operator = "LT"
	OpGTE           Operator = "GTE"
	OpLTE           Operator = "LTE"
	OpCrossesAbove  Operator = "CROSSES_ABOVE"
	OpCrossesBelow  Operator = "CROSSES_BELOW"
	OpBetween       Operator = "BETWEEN"
	OpOutside       Operator = "OUTSIDE"
)

type EvalMode string

const (
	ModeTick        EvalMode = "TICK"
	ModeInterval1M  EvalMode = "INTERVAL_1M"
	ModeInterval5M  EvalMode = "INTERVAL_5M"
	ModeInterval15M EvalMode = "INTERVAL_15M"
)

type RuleStatus string

const (
	RuleActive     RuleStatus = "ACTIVE"
	RuleTriggered  RuleStatus = "TRIGGERED"
	RuleDisabled   RuleStatus = "DISABLED"
)

type Action string

const (
	ActionDeploy Action = "DEPLOY"
	ActionArm    Action = "ARM"
	ActionAlert  Action = "ALERT"
)

// Rule is a Condition Rule (§3).
type Rule struct {
	ID              string
	InstrumentToken uint64
	Indicator       string
	Operator        Operator
	Threshold       decimal.Decimal
	Secondary       decimal.Decimal
	Mode            EvalMode
	ValidFrom       time.Time
	ValidUntil      time.Time
	CooldownMinutes int
	MaxTriggers     int
	TriggerCount    int
	LastTriggeredAt time.Time
	Status          RuleStatus
	Action          Action

	mu       sync.Mutex
	previous decimal.Decimal
	hasPrev  bool
}

// IndicatorUpdate is a tick-mode evaluation trigger for one instrument.
type IndicatorUpdate struct {
	InstrumentToken uint64
	Indicator       string
	Value           decimal.Decimal
	At              time.Time
}

// Triggered is published whenever a rule fires.
type Triggered struct {
	Rule  Rule
	Value decimal.Decimal
	At    time.Time
}

// ActionInvoker performs the rule's configured action (DEPLOY/ARM/ALERT).
// Strategy deployment itself is out of scope; this is the seam a strategy
// runtime plugs into.
type ActionInvoker func(ctx context.Context, rule Rule, value decimal.Decimal)

// Engine is the in-memory rule index, grouped by instrument token, evaluated
// on tick and 60-second interval triggers (§4.10).
type Engine struct {
	mu        sync.RWMutex
	byToken   map[uint64][]*Rule
	ruleLocks map[string]*sync.Mutex

	publisher events.Publisher
	invoker   ActionInvoker

	stop chan struct{}
}

// NewEngine wires the engine's collaborators.
func NewEngine(publisher events.Publisher, invoker ActionInvoker) *Engine {
	if invoker == nil {
		invoker = func(context.Context, Rule, decimal.Decimal) {}
	}
	return &Engine{
		byToken:   make(map[uint64][]*Rule),
		ruleLocks: make(map[string]*sync.Mutex),
		publisher: publisher,
		invoker:   invoker,
		stop:      make(chan struct{}),
	}
}

// AddRule registers rule, indexing it by instrument token.
func (e *Engine) AddRule(rule *Rule) {
	if rule.Status == "" {
		rule.Status = RuleActive
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byToken[rule.InstrumentToken] = append(e.byToken[rule.InstrumentToken], rule)
	e.ruleLocks[rule.ID] = &sync.Mutex{}
}

// RemoveRule unregisters a rule by id.
func (e *Engine) RemoveRule(instrumentToken uint64, ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.byToken[instrumentToken]
	for i, r := range rules {
		if r.ID == ruleID {
			e.byToken[instrumentToken] = append(rules[:i], rules[i+1:]...)
			delete(e.ruleLocks, ruleID)
			return
		}
	}
}

// OnIndicatorUpdate scans tick-mode rules for the update's instrument token.
func (e *Engine) OnIndicatorUpdate(ctx context.Context, update IndicatorUpdate) {
	e.mu.RLock()
	rules := append([]*Rule(nil), e.byToken[update.InstrumentToken]...)
	e.mu.RUnlock()

	now := update.At
	for _, r := range rules {
		if r.Mode == ModeTick {
			e.evaluate(ctx, r, update.Value, now)
		}
	}
}

// RunIntervalLoop ticks every 60 seconds, evaluating INTERVAL_1M rules every
// tick, INTERVAL_5M when minute%5==0, INTERVAL_15M when minute%15==0. last
// supplies the most recent indicator value for a rule's instrument.
func (e *Engine) RunIntervalLoop(ctx context.Context, last func(instrumentToken uint64, indicator string) (decimal.Decimal, bool)) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.evaluateInterval(ctx, now, last)
		}
	}
}

func (e *Engine) evaluateInterval(ctx context.Context, now time.Time, last func(uint64, string) (decimal.Decimal, bool)) {
	minute := now.Minute()

	e.mu.RLock()
	var all []*Rule
	for _, rules := range e.byToken {
		all = append(all, rules...)
	}
	e.mu.RUnlock()

	for _, r := range all {
		var due bool
		switch r.Mode {
		case ModeInterval1M:
			due = true
		case ModeInterval5M:
			due = minute%5 == 0
		case ModeInterval15M:
			due = minute%15 == 0
		}
		if !due {
			continue
		}
		value, ok := last(r.InstrumentToken, r.Indicator)
		if !ok {
			continue
		}
		e.evaluate(ctx, r, value, now)
	}
}

// Stop halts RunIntervalLoop.
func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) evaluate(ctx context.Context, r *Rule, value decimal.Decimal, now time.Time) {
	r.mu.Lock()
	matched := matches(r, value)
	r.previous = value
	r.hasPrev = true
	r.mu.Unlock()

	if !matched {
		return
	}

	if !precheck(r, now) {
		return
	}

	lock := e.ruleLock(r.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check max-triggers inside the critical section (§4.10).
	if r.TriggerCount >= r.MaxTriggers {
		return
	}
	if now.Sub(r.LastTriggeredAt) < time.Duration(r.CooldownMinutes)*time.Minute && !r.LastTriggeredAt.IsZero() {
		return
	}

	r.TriggerCount++
	r.LastTriggeredAt = now
	if r.TriggerCount >= r.MaxTriggers {
		r.Status = RuleTriggered
	}

	e.invoker(ctx, *r, value)

	if e.publisher != nil {
		ev := Triggered{Rule: *r, Value: value, At: now}
		if err := e.publisher.Publish(ctx, events.SubjectConditions, ev); err != nil {
			logging.Error("condition engine: failed to publish trigger event", err)
		}
	}
}

func (e *Engine) ruleLock(ruleID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.ruleLocks[ruleID]
	if !ok {
		l = &sync.Mutex{}
		e.ruleLocks[ruleID] = l
	}
	return l
}

func precheck(r *Rule, now time.Time) bool {
	if r.Status != RuleActive {
		return false
	}
	if !r.ValidFrom.IsZero() && now.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidUntil.IsZero() && now.After(r.ValidUntil) {
		return false
	}
	if r.TriggerCount >= r.MaxTriggers {
		return false
	}
	if !r.LastTriggeredAt.IsZero() && now.Sub(r.LastTriggeredAt) < time.Duration(r.CooldownMinutes)*time.Minute {
		return false
	}
	return true
}

// matches evaluates the operator semantics from §4.10. The previous value is
// read/written under r.mu by the caller so crossings are detected exactly
// once even under concurrent evaluation.
func matches(r *Rule, current decimal.Decimal) bool {
	switch r.Operator {
	case OpGT:
		return current.GreaterThan(r.Threshold)
	case OpLT:
		return current.LessThan(r.Threshold)
	case OpGTE:
		return current.GreaterThanOrEqual(r.Threshold)
	case OpLTE:
		return current.LessThanOrEqual(r.Threshold)
	case OpCrossesAbove:
		return r.hasPrev && r.previous.LessThan(r.Threshold) && current.GreaterThanOrEqual(r.Threshold)
	case OpCrossesBelow:
		return r.hasPrev && r.previous.GreaterThan(r.Threshold) && current.LessThanOrEqual(r.Threshold)
	case OpBetween:
		return current.GreaterThanOrEqual(r.Threshold) && current.LessThanOrEqual(r.Secondary)
	case OpOutside:
		return current.LessThan(r.Threshold) || current.GreaterThan(r.Secondary)
	default:
		return false
	}
}
