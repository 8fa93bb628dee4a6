package planner_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/planner"
	"github.com/econregulator/regulator/internal/registry"
	"github.com/econregulator/regulator/pkg/types"
)

func violationFor(paramType string, direction types.SuggestedDirection) types.PrincipleViolation {
	magnitude := 0.1
	return types.PrincipleViolation{
		PrincipleID: "P1",
		Tick:        10,
		Result: types.PrincipleResult{
			Violated: true,
			SuggestedAction: &types.SuggestedAction{
				ParameterType: paramType,
				Direction:     direction,
				Magnitude:     &magnitude,
			},
			EstimatedLag: 5,
		},
	}
}

func passingSimResult() types.SimulationResult {
	return types.SimulationResult{NetImprovement: true, NoNewProblems: true}
}

func newReg() *registry.Registry {
	r := registry.New()
	r.Register(types.RegisteredParameter{Key: "sinkFeeRate", Type: "sinkFeeRate"})
	return r
}

func TestPlanProducesClampedTarget(t *testing.T) {
	p := planner.New(zap.NewNop())
	reg := newReg()
	min0, max1 := 0.0, 0.2
	reg.Register(types.RegisteredParameter{
		Key: "sinkFeeRate", Type: "sinkFeeRate",
		Constraint: &types.ParameterConstraint{Min: &min0, Max: &max1},
	})

	v := violationFor("sinkFeeRate", types.DirectionIncrease)
	plan := p.Plan(v, &types.EconomyMetrics{AvgSatisfaction: 60}, passingSimResult(), map[string]float64{"sinkFeeRate": 0.19}, types.DefaultThresholds(), reg, 10, 20, 15)

	if plan == nil {
		t.Fatal("expected a plan")
	}
	target, _ := plan.TargetValue.Float64()
	if target > 0.2+1e-9 {
		t.Errorf("expected target clamped to max 0.2, got %v", target)
	}
}

func TestPlanSkipsWhenLocked(t *testing.T) {
	p := planner.New(zap.NewNop())
	reg := newReg()
	p.Lock("sinkFeeRate")

	v := violationFor("sinkFeeRate", types.DirectionIncrease)
	plan := p.Plan(v, &types.EconomyMetrics{}, passingSimResult(), nil, types.DefaultThresholds(), reg, 10, 20, 15)

	if plan != nil {
		t.Fatal("expected nil plan for a locked parameter")
	}
	if p.LastSkipReason() != planner.SkipLocked {
		t.Errorf("expected SkipLocked, got %v", p.LastSkipReason())
	}
}

func TestPlanSkipsOnFailedSimulation(t *testing.T) {
	p := planner.New(zap.NewNop())
	reg := newReg()

	v := violationFor("sinkFeeRate", types.DirectionIncrease)
	plan := p.Plan(v, &types.EconomyMetrics{}, types.SimulationResult{NetImprovement: false}, nil, types.DefaultThresholds(), reg, 10, 20, 15)

	if plan != nil {
		t.Fatal("expected nil plan when simulation did not show improvement")
	}
	if p.LastSkipReason() != planner.SkipSimulationFailed {
		t.Errorf("expected SkipSimulationFailed, got %v", p.LastSkipReason())
	}
}

func TestPlanRespectsCooldownAfterRecordApplied(t *testing.T) {
	p := planner.New(zap.NewNop())
	reg := newReg()

	v := violationFor("sinkFeeRate", types.DirectionIncrease)
	plan := p.Plan(v, &types.EconomyMetrics{AvgSatisfaction: 60}, passingSimResult(), nil, types.DefaultThresholds(), reg, 10, 20, 15)
	if plan == nil {
		t.Fatal("expected an initial plan")
	}
	p.RecordApplied(plan, 15, 10)

	again := p.Plan(v, &types.EconomyMetrics{AvgSatisfaction: 60}, passingSimResult(), nil, types.DefaultThresholds(), reg, 12, 20, 15)
	if again != nil {
		t.Fatal("expected cooldown to block a second plan for the same parameter")
	}
	if p.LastSkipReason() != planner.SkipCooldown {
		t.Errorf("expected SkipCooldown, got %v", p.LastSkipReason())
	}

	after := p.Plan(v, &types.EconomyMetrics{AvgSatisfaction: 60}, passingSimResult(), nil, types.DefaultThresholds(), reg, 30, 20, 15)
	if after == nil {
		t.Fatal("expected cooldown to have expired by tick 30")
	}
}

func TestPlanSkipsOnComplexityBudget(t *testing.T) {
	p := planner.New(zap.NewNop())
	reg := newReg()

	v := violationFor("sinkFeeRate", types.DirectionIncrease)
	plan := p.Plan(v, &types.EconomyMetrics{AvgSatisfaction: 60}, passingSimResult(), nil, types.DefaultThresholds(), reg, 10, 1, 15)
	if plan == nil {
		t.Fatal("expected first plan to succeed")
	}
	p.RecordApplied(plan, 15, 10)

	reg.Register(types.RegisteredParameter{Key: "wealthTaxRate", Type: "wealthTaxRate"})
	v2 := violationFor("wealthTaxRate", types.DirectionIncrease)
	blocked := p.Plan(v2, &types.EconomyMetrics{AvgSatisfaction: 60}, passingSimResult(), nil, types.DefaultThresholds(), reg, 10, 1, 15)
	if blocked != nil {
		t.Fatal("expected complexity budget of 1 to block a second concurrent plan")
	}
	if p.LastSkipReason() != planner.SkipComplexityBudget {
		t.Errorf("expected SkipComplexityBudget, got %v", p.LastSkipReason())
	}
}

func TestPlanSkipsNoCandidate(t *testing.T) {
	p := planner.New(zap.NewNop())
	reg := registry.New()

	v := violationFor("unregisteredType", types.DirectionIncrease)
	plan := p.Plan(v, &types.EconomyMetrics{}, passingSimResult(), nil, types.DefaultThresholds(), reg, 10, 20, 15)
	if plan != nil {
		t.Fatal("expected nil plan when no parameter of this type is registered")
	}
	if p.LastSkipReason() != planner.SkipNoCandidate {
		t.Errorf("expected SkipNoCandidate, got %v", p.LastSkipReason())
	}
}

func TestRecordRolledBackFlooredAtZero(t *testing.T) {
	p := planner.New(zap.NewNop())
	p.RecordRolledBack()
	p.RecordRolledBack()
	if p.ActivePlanCount() != 0 {
		t.Errorf("expected active plan count floored at 0, got %d", p.ActivePlanCount())
	}
}
