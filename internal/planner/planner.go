// Package planner turns a diagnosed violation and its simulation result
// into a concrete, ready-to-apply ActionPlan, or declines to act.
package planner

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/registry"
	"github.com/econregulator/regulator/pkg/types"
)

const defaultMagnitude = 0.10

// SkipReason explains why Plan returned nil.
type SkipReason string

const (
	SkipNone               SkipReason = ""
	SkipCooldown           SkipReason = "skipped_cooldown"
	SkipSimulationFailed   SkipReason = "skipped_simulation_failed"
	SkipLocked             SkipReason = "skipped_locked"
	SkipComplexityBudget   SkipReason = "skipped_complexity_budget"
	SkipNoCandidate        SkipReason = "skipped_no_candidate"
	SkipNegligibleChange   SkipReason = "skipped_negligible_change"
)

// Planner tracks per-parameter and per-(type+scope) cooldowns, locked
// parameters, and the count of currently active plans.
type Planner struct {
	logger *zap.Logger

	mu               sync.Mutex
	paramCooldowns   map[string]int64 // key -> tick eligible again
	typeCooldowns    map[string]int64 // type|system|currency -> tick eligible again
	lockedParams     map[string]bool
	activePlanCount  int

	lastSkipReason SkipReason
}

// New creates an empty Planner.
func New(logger *zap.Logger) *Planner {
	return &Planner{
		logger:         logger.Named("planner"),
		paramCooldowns: make(map[string]int64),
		typeCooldowns:  make(map[string]int64),
		lockedParams:   make(map[string]bool),
	}
}

// Lock marks a parameter key as locked; Plan will always decline it.
func (p *Planner) Lock(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lockedParams[key] = true
}

// Unlock clears a previously locked parameter key.
func (p *Planner) Unlock(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lockedParams, key)
}

// ActivePlanCount returns the current count of active plans tracked by the
// Planner's complexity budget.
func (p *Planner) ActivePlanCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activePlanCount
}

// LastSkipReason returns the reason the most recent Plan call returned nil,
// or SkipNone if the last call produced a plan (or none has run yet).
func (p *Planner) LastSkipReason() SkipReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSkipReason
}

// DecisionResult maps r onto the enumerated DecisionResult values the
// decision log and its query filter are defined over. skipped_cooldown is
// the documented default for any decline that isn't itself a simulation or
// lock failure (complexity budget exhausted, no resolvable parameter, or
// a clamped target too close to the current value all mean "nothing to do
// this tick, try again later").
func (r SkipReason) DecisionResult() types.DecisionResult {
	switch r {
	case SkipSimulationFailed:
		return types.ResultSkippedSimulationFailed
	case SkipLocked:
		return types.ResultSkippedLocked
	default:
		return types.ResultSkippedCooldown
	}
}

func typeCooldownKey(parameterType string, scope *types.ParameterScope) string {
	system, currency := "", ""
	if scope != nil {
		system, currency = scope.System, scope.Currency
	}
	return fmt.Sprintf("%s|%s|%s", parameterType, system, currency)
}

// Plan resolves violation's suggested action against reg, applies the hard
// checks, computes a clamped target value, and returns a ready-to-apply
// ActionPlan. Returns nil when any hard check fails or no candidate
// parameter resolves; the reason is recorded for LastSkipReason.
func (p *Planner) Plan(
	violation types.PrincipleViolation,
	metrics *types.EconomyMetrics,
	simResult types.SimulationResult,
	currentParams map[string]float64,
	thresholds types.Thresholds,
	reg *registry.Registry,
	currentTick int64,
	complexityBudgetMax int,
	cooldownTicks int64,
) *types.ActionPlan {
	p.mu.Lock()
	defer p.mu.Unlock()

	action := violation.Result.SuggestedAction
	if action == nil {
		p.lastSkipReason = SkipNoCandidate
		return nil
	}

	scope := types.ParameterScope{}
	if action.Scope != nil {
		scope = *action.Scope
	}
	candidate := reg.Resolve(action.ParameterType, scope)
	if candidate == nil {
		p.lastSkipReason = SkipNoCandidate
		return nil
	}

	if p.lockedParams[candidate.Key] {
		p.lastSkipReason = SkipLocked
		return nil
	}

	tcKey := typeCooldownKey(action.ParameterType, action.Scope)
	if until, ok := p.typeCooldowns[tcKey]; ok && currentTick < until {
		p.lastSkipReason = SkipCooldown
		return nil
	}
	if until, ok := p.paramCooldowns[candidate.Key]; ok && currentTick < until {
		p.lastSkipReason = SkipCooldown
		return nil
	}

	if !simResult.NetImprovement || !simResult.NoNewProblems {
		p.lastSkipReason = SkipSimulationFailed
		return nil
	}

	if p.activePlanCount >= complexityBudgetMax {
		p.lastSkipReason = SkipComplexityBudget
		return nil
	}

	currentValue := 1.0
	if candidate.CurrentValue != nil {
		v, _ := candidate.CurrentValue.Float64()
		currentValue = v
	} else if v, ok := currentParams[candidate.Key]; ok {
		currentValue = v
	} else if action.AbsoluteValue != nil {
		currentValue = *action.AbsoluteValue
	}

	magnitude := defaultMagnitude
	if action.Magnitude != nil {
		magnitude = *action.Magnitude
	}
	if magnitude > thresholds.MaxAdjustmentPercent {
		magnitude = thresholds.MaxAdjustmentPercent
	}

	var target float64
	if action.Direction == types.DirectionSet && action.AbsoluteValue != nil {
		target = *action.AbsoluteValue
	} else if action.Direction == types.DirectionDecrease {
		target = currentValue * (1 - magnitude)
	} else {
		target = currentValue * (1 + magnitude)
	}

	if candidate.Constraint != nil {
		if candidate.Constraint.Min != nil && target < *candidate.Constraint.Min {
			target = *candidate.Constraint.Min
		}
		if candidate.Constraint.Max != nil && target > *candidate.Constraint.Max {
			target = *candidate.Constraint.Max
		}
	}

	if math.Abs(target-currentValue) < 0.001 {
		p.lastSkipReason = SkipNegligibleChange
		return nil
	}

	satisfactionFloor := math.Max(20, metrics.AvgSatisfaction-10)
	rollback := types.RollbackCondition{
		Metric:         "avgSatisfaction",
		Direction:      "below",
		Threshold:      satisfactionFloor,
		CheckAfterTick: currentTick + violation.Result.EstimatedLag + 3,
	}

	plan := &types.ActionPlan{
		ID:                uuid.NewString(),
		Diagnosis:         violation,
		Parameter:         candidate.Key,
		Scope:             action.Scope,
		CurrentValue:      decimal.NewFromFloat(currentValue),
		TargetValue:       decimal.NewFromFloat(target),
		MaxChangePercent:  magnitude,
		CooldownTicks:     cooldownTicks,
		RollbackCondition: rollback,
		SimulationResult:  simResult,
		EstimatedLag:      violation.Result.EstimatedLag,
	}

	p.lastSkipReason = SkipNone
	return plan
}

// RecordApplied records the concrete-parameter and (type+scope) cooldowns
// and increments the active-plan count. Call after Executor.Apply succeeds.
func (p *Planner) RecordApplied(plan *types.ActionPlan, cooldownTicks int64, currentTick int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paramCooldowns[plan.Parameter] = currentTick + cooldownTicks
	p.typeCooldowns[typeCooldownKey(plan.Diagnosis.Result.SuggestedAction.ParameterType, plan.Scope)] = currentTick + cooldownTicks
	p.activePlanCount++
}

// RecordRolledBack decrements the active-plan count, floored at 0.
func (p *Planner) RecordRolledBack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activePlanCount > 0 {
		p.activePlanCount--
	}
}

// RecordSettled decrements the active-plan count, floored at 0.
func (p *Planner) RecordSettled() {
	p.RecordRolledBack()
}
