// Package executor applies ActionPlans against the host adapter and
// monitors them for rollback or settlement.
package executor

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/pkg/adapter"
	"github.com/econregulator/regulator/pkg/types"
)

// hardTTLTicks is the absolute ceiling on how long a plan may remain active,
// regardless of its settlement window, guaranteeing liveness.
const hardTTLTicks = 200

// PlannerFeedback is the subset of Planner methods the Executor calls back
// into when a plan leaves the active set.
type PlannerFeedback interface {
	RecordRolledBack()
	RecordSettled()
}

// Executor owns the active-plan set after Planner hands a plan off to
// Apply; the DecisionLog keeps only a value-copy snapshot, never a
// reference, so plan mutation from the log is impossible.
type Executor struct {
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]*types.ActionPlan
}

// New creates an Executor with no active plans.
func New(logger *zap.Logger) *Executor {
	return &Executor{
		logger: logger.Named("executor"),
		active: make(map[string]*types.ActionPlan),
	}
}

// Active returns a snapshot of currently active plans.
func (e *Executor) Active() []types.ActionPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ActionPlan, 0, len(e.active))
	for _, p := range e.active {
		out = append(out, *p)
	}
	return out
}

// Apply stamps appliedAt, calls adapter.SetParam, and inserts the plan into
// the active set.
func (e *Executor) Apply(ctx context.Context, plan *types.ActionPlan, host adapter.HostAdapter, diagnosisTick int64) error {
	target, _ := plan.TargetValue.Float64()
	if err := host.SetParam(ctx, plan.Parameter, target, plan.Scope); err != nil {
		return err
	}

	tick := diagnosisTick
	plan.AppliedAt = &tick

	e.mu.Lock()
	e.active[plan.ID] = plan
	e.mu.Unlock()
	return nil
}

// CheckRollbacks evaluates every active plan against metrics for the
// current tick, returning the plans that were rolled back and the plans
// that settled (reached the end of their settlement window without
// rollback). The two sets are disjoint.
func (e *Executor) CheckRollbacks(
	ctx context.Context,
	metrics *types.EconomyMetrics,
	host adapter.HostAdapter,
	settlementWindowTicks int64,
	feedback PlannerFeedback,
) (rolledBack []types.ActionPlan, settled []types.ActionPlan) {
	e.mu.Lock()
	plans := make([]*types.ActionPlan, 0, len(e.active))
	for _, p := range e.active {
		plans = append(plans, p)
	}
	e.mu.Unlock()

	for _, plan := range plans {
		if plan.AppliedAt == nil {
			continue
		}
		appliedAt := *plan.AppliedAt

		if metrics.Tick-appliedAt > hardTTLTicks {
			e.removeActive(plan.ID)
			feedback.RecordSettled()
			settled = append(settled, *plan)
			continue
		}

		if metrics.Tick < plan.RollbackCondition.CheckAfterTick {
			continue
		}

		value, ok := metrics.Get(plan.RollbackCondition.Metric)
		shouldRollback := false
		if !ok || math.IsNaN(value) {
			shouldRollback = true
		} else {
			switch plan.RollbackCondition.Direction {
			case "below":
				shouldRollback = value < plan.RollbackCondition.Threshold
			case "above":
				shouldRollback = value > plan.RollbackCondition.Threshold
			}
		}

		if shouldRollback {
			current, _ := plan.CurrentValue.Float64()
			if err := host.SetParam(ctx, plan.Parameter, current, plan.Scope); err != nil {
				e.logger.Error("rollback setParam failed, removing plan to avoid wedging",
					zap.String("plan", plan.ID), zap.Error(err))
			}
			e.removeActive(plan.ID)
			feedback.RecordRolledBack()
			rolledBack = append(rolledBack, *plan)
			continue
		}

		window := settlementWindowTicks
		if window <= 0 {
			window = hardTTLTicks
		}
		if metrics.Tick-appliedAt > window {
			e.removeActive(plan.ID)
			feedback.RecordSettled()
			settled = append(settled, *plan)
		}
	}

	return rolledBack, settled
}

func (e *Executor) removeActive(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}
