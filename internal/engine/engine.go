// Package engine turns a pricing snapshot into a switching decision.
// It composes the policy gates and the risk scorer, serializes
// evaluations per instance, and audits every substantive outcome.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/softcane/spot-optimizer/internal/baseline"
	"github.com/softcane/spot-optimizer/internal/domain"
	"github.com/softcane/spot-optimizer/internal/metrics"
	"github.com/softcane/spot-optimizer/internal/policy"
	"github.com/softcane/spot-optimizer/internal/risk"
)

// DecisionStore is the persistence slice the engine writes to.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d domain.Decision) error
}

// Engine evaluates instances against live pricing. Safe for concurrent
// use; evaluations for the same instance run one at a time.
type Engine struct {
	guard     *policy.Guard
	baselines *baseline.Store
	decisions DecisionStore
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config carries the engine's dependencies.
type Config struct {
	Guard     *policy.Guard
	Baselines *baseline.Store
	Decisions DecisionStore
	Logger    *slog.Logger
	// Now overrides the clock in tests. Defaults to time.Now.
	Now func() time.Time
}

// New creates an engine from the given dependencies.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		guard:     cfg.Guard,
		baselines: cfg.Baselines,
		decisions: cfg.Decisions,
		logger:    logger,
		now:       now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// instanceLock returns the mutex serializing evaluations for one
// instance, creating it on first use. Locks are never released from
// the map; the instance population is small and long-lived.
func (e *Engine) instanceLock(instanceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instanceID] = l
	}
	return l
}

// Evaluate produces a switching decision for one instance. Gate
// rejections return a stay decision without an audit row; every other
// outcome is persisted.
func (e *Engine) Evaluate(ctx context.Context, inst domain.Instance, pol domain.AgentPolicy, snap domain.PricingSnapshot) (domain.Decision, error) {
	if len(snap.SpotPools) == 0 {
		return domain.Decision{}, domain.Invalid("spot_pools", "at least one spot pool price is required")
	}
	if snap.OnDemandPrice <= 0 {
		return domain.Decision{}, domain.Invalid("on_demand_price", "must be positive")
	}

	lock := e.instanceLock(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now().UTC()

	verdict, err := e.guard.Check(ctx, now, pol, inst.ID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("policy gates for instance %s: %w", inst.ID, err)
	}
	if verdict.Blocked {
		metrics.PolicyBlockedTotal.WithLabelValues(verdict.Gate).Inc()
		e.logger.Info("evaluation blocked by policy",
			"instance_id", inst.ID,
			"agent_id", pol.AgentID,
			"gate", verdict.Gate,
			"reason", verdict.Reason)
		return domain.Decision{
			InstanceID:      inst.ID,
			AgentID:         inst.AgentID,
			ClientID:        inst.ClientID,
			RiskState:       risk.StateNormal,
			Action:          domain.ActionStay,
			RecommendedMode: inst.CurrentMode,
			Allowed:         false,
			Reason:          verdict.Reason,
			EvaluatedAt:     now,
		}, nil
	}

	d := e.decide(inst, pol, snap)
	d.InstanceID = inst.ID
	d.AgentID = inst.AgentID
	d.ClientID = inst.ClientID
	d.Allowed = pol.AutoSwitchEnabled
	d.EvaluatedAt = now

	if err := e.decisions.SaveDecision(ctx, d); err != nil {
		return domain.Decision{}, fmt.Errorf("save decision for instance %s: %w", inst.ID, err)
	}

	metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	if d.Action != domain.ActionStay {
		e.logger.Info("switch recommended",
			"instance_id", inst.ID,
			"action", string(d.Action),
			"pool", d.RecommendedPoolID,
			"savings_per_hour", d.ExpectedSavingsHr,
			"allowed", d.Allowed)
	}
	return d, nil
}

// decide runs the risk assessment and the action branches. It fills
// only the fields derived from pricing; the caller stamps identity,
// permission, and time.
func (e *Engine) decide(inst domain.Instance, pol domain.AgentPolicy, snap domain.PricingSnapshot) domain.Decision {
	table := e.baselines.Current()

	current := resolveCurrentPool(inst, snap)
	assessed := risk.Score(table, current.PoolID, current.Price, snap.OnDemandPrice)
	metrics.RiskScore.WithLabelValues(current.PoolID).Set(assessed.Score)

	d := domain.Decision{
		RiskScore:       assessed.Score,
		RiskState:       assessed.State,
		Action:          domain.ActionStay,
		RecommendedMode: inst.CurrentMode,
		Reason:          assessed.Reason,
	}
	if inst.CurrentMode == domain.ModeSpot {
		d.RecommendedPoolID = current.PoolID
	}

	switch {
	case (assessed.State == risk.StateEvent || assessed.State == risk.StateHighRisk) &&
		assessed.Score >= pol.RiskThreshold:
		// Paying the on-demand premium is the cost of dodging the
		// event. An instance already on demand stays there rather than
		// entering a risky market.
		d.Action = domain.ActionFallbackOnDemand
		d.RecommendedMode = domain.ModeOnDemand
		d.RecommendedPoolID = "n/a"
		d.ExpectedSavingsHr = -(snap.OnDemandPrice - current.Price)
		d.Reason = fmt.Sprintf("High risk detected (score: %.2f), fallback to on-demand recommended", assessed.Score)

	case inst.CurrentMode == domain.ModeOnDemand && assessed.State == risk.StateSafeReturn:
		best := cheapestPool(snap.SpotPools)
		pct := savingsPercent(snap.OnDemandPrice, best.Price)
		if pct >= pol.MinSavingsPercent {
			d.Action = domain.ActionSwitchPool
			d.RecommendedMode = domain.ModeSpot
			d.RecommendedPoolID = best.PoolID
			d.ExpectedSavingsHr = snap.OnDemandPrice - best.Price
			d.Reason = fmt.Sprintf("Safe to return to spot. Pool %s offers %.1f%% savings", best.PoolID, pct)
		}

	case inst.CurrentMode == domain.ModeSpot && assessed.State == risk.StateNormal:
		best, ok := cheapestOtherPool(snap.SpotPools, current.PoolID)
		if !ok {
			break
		}
		saving := current.Price - best.Price
		// The improvement is gated relative to on-demand spend, not the
		// current spot rate, so the bar stays stable as prices drift.
		pct := saving / snap.OnDemandPrice * 100
		if saving > 0 && pct >= pol.MinSavingsPercent {
			d.Action = domain.ActionSwitchPool
			d.RecommendedMode = domain.ModeSpot
			d.RecommendedPoolID = best.PoolID
			d.ExpectedSavingsHr = saving
			d.Reason = fmt.Sprintf("Better pool available: %s saves %.1f%%", best.PoolID, pct)
		}
	}

	return d
}

// resolveCurrentPool picks the pool a decision is evaluated against.
// A spot instance is scored on its own pool when the snapshot quotes
// it; a recorded pool missing from the snapshot means the instance
// state is stale and the cheapest listed pool stands in, id and price
// together. Off spot there is no current pool to watch, so the
// cheapest candidate stands in for the return decision.
func resolveCurrentPool(inst domain.Instance, snap domain.PricingSnapshot) domain.PoolPrice {
	if inst.CurrentMode == domain.ModeSpot {
		for _, p := range snap.SpotPools {
			if p.PoolID == inst.CurrentPoolID {
				return p
			}
		}
	}
	return cheapestPool(snap.SpotPools)
}

// cheapestPool returns the lowest-priced pool. Ties break to the
// lexicographically smaller pool ID so repeated evaluations of the
// same snapshot agree.
func cheapestPool(pools []domain.PoolPrice) domain.PoolPrice {
	best := pools[0]
	for _, p := range pools[1:] {
		if p.Price < best.Price || (p.Price == best.Price && p.PoolID < best.PoolID) {
			best = p
		}
	}
	return best
}

// cheapestOtherPool is cheapestPool restricted to pools other than the
// one the instance already occupies.
func cheapestOtherPool(pools []domain.PoolPrice, current string) (domain.PoolPrice, bool) {
	var best domain.PoolPrice
	found := false
	for _, p := range pools {
		if p.PoolID == current {
			continue
		}
		if !found || p.Price < best.Price || (p.Price == best.Price && p.PoolID < best.PoolID) {
			best = p
			found = true
		}
	}
	return best, found
}

// savingsPercent is the discount of price against the on-demand rate.
func savingsPercent(onDemand, price float64) float64 {
	if onDemand <= 0 {
		return 0
	}
	return (onDemand - price) / onDemand * 100
}
