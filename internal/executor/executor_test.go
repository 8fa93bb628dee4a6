package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/executor"
	"github.com/econregulator/regulator/pkg/types"
)

type fakeHost struct {
	setCalls []setCall
	failSet  bool
}

type setCall struct {
	key   string
	value float64
}

func (f *fakeHost) GetState(ctx context.Context) (*types.EconomyState, error) { return nil, nil }
func (f *fakeHost) SetParam(ctx context.Context, key string, value float64, scope *types.ParameterScope) error {
	if f.failSet {
		return errors.New("set param failed")
	}
	f.setCalls = append(f.setCalls, setCall{key, value})
	return nil
}

type fakeFeedback struct {
	rolledBack int
	settled    int
}

func (f *fakeFeedback) RecordRolledBack() { f.rolledBack++ }
func (f *fakeFeedback) RecordSettled()    { f.settled++ }

func samplePlan() *types.ActionPlan {
	return &types.ActionPlan{
		ID:           "plan-1",
		Parameter:    "sinkFeeRate",
		CurrentValue: decimal.NewFromFloat(0.05),
		TargetValue:  decimal.NewFromFloat(0.1),
		RollbackCondition: types.RollbackCondition{
			Metric: "avgSatisfaction", Direction: "below", Threshold: 50, CheckAfterTick: 5,
		},
	}
}

func TestApplyInsertsIntoActiveSet(t *testing.T) {
	e := executor.New(zap.NewNop())
	host := &fakeHost{}
	plan := samplePlan()

	if err := e.Apply(context.Background(), plan, host, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(host.setCalls) != 1 || host.setCalls[0].value != 0.1 {
		t.Fatalf("expected SetParam called with target value, got %+v", host.setCalls)
	}
	if len(e.Active()) != 1 {
		t.Fatalf("expected 1 active plan, got %d", len(e.Active()))
	}
	if plan.AppliedAt == nil || *plan.AppliedAt != 1 {
		t.Errorf("expected AppliedAt stamped to 1, got %v", plan.AppliedAt)
	}
}

func TestCheckRollbacksTriggersOnThresholdBreach(t *testing.T) {
	e := executor.New(zap.NewNop())
	host := &fakeHost{}
	feedback := &fakeFeedback{}
	plan := samplePlan()
	_ = e.Apply(context.Background(), plan, host, 1)

	metrics := &types.EconomyMetrics{Tick: 10, AvgSatisfaction: 30}
	rolledBack, settled := e.CheckRollbacks(context.Background(), metrics, host, 200, feedback)

	if len(rolledBack) != 1 || len(settled) != 0 {
		t.Fatalf("expected 1 rollback, 0 settled, got %d/%d", len(rolledBack), len(settled))
	}
	if feedback.rolledBack != 1 {
		t.Errorf("expected feedback.RecordRolledBack to be called once, got %d", feedback.rolledBack)
	}
	if len(e.Active()) != 0 {
		t.Errorf("expected plan removed from active set after rollback")
	}
	if host.setCalls[len(host.setCalls)-1].value != 0.05 {
		t.Errorf("expected rollback to SetParam back to CurrentValue 0.05, got %v", host.setCalls[len(host.setCalls)-1])
	}
}

func TestCheckRollbacksFailSafeOnUnresolvedMetric(t *testing.T) {
	e := executor.New(zap.NewNop())
	host := &fakeHost{}
	feedback := &fakeFeedback{}
	plan := samplePlan()
	plan.RollbackCondition.Metric = "doesNotExist.nested"
	_ = e.Apply(context.Background(), plan, host, 1)

	metrics := &types.EconomyMetrics{Tick: 10, AvgSatisfaction: 90}
	rolledBack, _ := e.CheckRollbacks(context.Background(), metrics, host, 200, feedback)

	if len(rolledBack) != 1 {
		t.Fatalf("expected fail-safe rollback when the watched metric does not resolve, got %d", len(rolledBack))
	}
}

func TestCheckRollbacksHardTTLForcesSettle(t *testing.T) {
	e := executor.New(zap.NewNop())
	host := &fakeHost{}
	feedback := &fakeFeedback{}
	plan := samplePlan()
	_ = e.Apply(context.Background(), plan, host, 1)

	metrics := &types.EconomyMetrics{Tick: 250, AvgSatisfaction: 90}
	rolledBack, settled := e.CheckRollbacks(context.Background(), metrics, host, 200, feedback)

	if len(settled) != 1 || len(rolledBack) != 0 {
		t.Fatalf("expected hard-TTL settle, got rolledBack=%d settled=%d", len(rolledBack), len(settled))
	}
	if feedback.settled != 1 {
		t.Errorf("expected feedback.RecordSettled called once, got %d", feedback.settled)
	}
}

func TestCheckRollbacksSettlesAfterWindowWithoutBreach(t *testing.T) {
	e := executor.New(zap.NewNop())
	host := &fakeHost{}
	feedback := &fakeFeedback{}
	plan := samplePlan()
	_ = e.Apply(context.Background(), plan, host, 1)

	metrics := &types.EconomyMetrics{Tick: 20, AvgSatisfaction: 90}
	rolledBack, settled := e.CheckRollbacks(context.Background(), metrics, host, 10, feedback)

	if len(settled) != 1 || len(rolledBack) != 0 {
		t.Fatalf("expected settlement-window settle, got rolledBack=%d settled=%d", len(rolledBack), len(settled))
	}
}

func TestCheckRollbacksRemovesPlanEvenWhenSetParamFails(t *testing.T) {
	e := executor.New(zap.NewNop())
	host := &fakeHost{}
	feedback := &fakeFeedback{}
	plan := samplePlan()
	_ = e.Apply(context.Background(), plan, host, 1)
	host.failSet = true

	metrics := &types.EconomyMetrics{Tick: 10, AvgSatisfaction: 30}
	rolledBack, _ := e.CheckRollbacks(context.Background(), metrics, host, 200, feedback)

	if len(rolledBack) != 1 {
		t.Fatalf("expected rollback to be reported even though SetParam failed, got %d", len(rolledBack))
	}
	if len(e.Active()) != 0 {
		t.Error("expected plan removed from active set to avoid wedging, even on SetParam failure")
	}
}
