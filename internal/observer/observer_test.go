package observer_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/observer"
	"github.com/econregulator/regulator/pkg/types"
)

func baseState() *types.EconomyState {
	return &types.EconomyState{
		Tick:       1,
		Roles:      []string{"trader", "crafter"},
		Resources:  []string{"ore"},
		Currencies: []string{"gold"},
		AgentBalances: map[string]map[string]float64{
			"a1": {"gold": 100},
			"a2": {"gold": 10},
			"a3": {"gold": 5},
		},
		AgentRoles: map[string]string{
			"a1": "trader", "a2": "trader", "a3": "crafter",
		},
		AgentInventories: map[string]map[string]float64{
			"a1": {"ore": 1}, "a2": {"ore": 2},
		},
		MarketPrices: map[string]map[string]float64{
			"gold": {"ore": 5},
		},
	}
}

func TestComputeBasicAggregates(t *testing.T) {
	o := observer.New(zap.NewNop())
	state := baseState()
	events := []types.EconomicEvent{
		{Kind: types.EventMint, Currency: "gold", Amount: 20, Actor: "a1"},
		{Kind: types.EventBurn, Currency: "gold", Amount: 5, Actor: "a2"},
	}

	m, err := o.Compute(state, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.SupplyByCurrency["gold"] != 115 {
		t.Errorf("expected supply 115, got %v", m.SupplyByCurrency["gold"])
	}
	if m.FaucetVolumeByCurrency["gold"] != 20 {
		t.Errorf("expected faucet volume 20, got %v", m.FaucetVolumeByCurrency["gold"])
	}
	if m.SinkVolumeByCurrency["gold"] != 5 {
		t.Errorf("expected sink volume 5, got %v", m.SinkVolumeByCurrency["gold"])
	}
	if m.NetFlowByCurrency["gold"] != 15 {
		t.Errorf("expected net flow 15, got %v", m.NetFlowByCurrency["gold"])
	}
	if m.TotalAgents != 3 {
		t.Errorf("expected 3 agents, got %d", m.TotalAgents)
	}
	if m.RoleShares["trader"] < 0.65 || m.RoleShares["trader"] > 0.67 {
		t.Errorf("expected trader share ~2/3, got %v", m.RoleShares["trader"])
	}
}

func TestComputeInflationRequiresPriorTick(t *testing.T) {
	o := observer.New(zap.NewNop())
	state := baseState()

	m1, err := o.Compute(state, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m1.InflationByCurrency["gold"] != 0 {
		t.Errorf("expected zero inflation on first tick, got %v", m1.InflationByCurrency["gold"])
	}

	state.Tick = 2
	state.AgentBalances["a1"]["gold"] = 200
	m2, err := o.Compute(state, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m2.InflationByCurrency["gold"] <= 0 {
		t.Errorf("expected positive inflation after supply grew, got %v", m2.InflationByCurrency["gold"])
	}
}

func TestComputeGiniZeroWhenEqual(t *testing.T) {
	o := observer.New(zap.NewNop())
	state := &types.EconomyState{
		Tick: 1, Roles: []string{"a"}, Currencies: []string{"gold"},
		AgentBalances: map[string]map[string]float64{
			"a1": {"gold": 10}, "a2": {"gold": 10}, "a3": {"gold": 10},
		},
		AgentRoles: map[string]string{"a1": "a", "a2": "a", "a3": "a"},
	}
	m, err := o.Compute(state, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.GiniByCurrency["gold"] > 0.01 {
		t.Errorf("expected ~0 gini for equal balances, got %v", m.GiniByCurrency["gold"])
	}
}

func TestRegisterCustomMetricPanicContained(t *testing.T) {
	o := observer.New(zap.NewNop())
	o.RegisterCustomMetric("boom", func(state *types.EconomyState) (float64, error) {
		panic("kaboom")
	})
	o.RegisterCustomMetric("fails", func(state *types.EconomyState) (float64, error) {
		return 0, errors.New("deliberate failure")
	})
	o.RegisterCustomMetric("ok", func(state *types.EconomyState) (float64, error) {
		return 42, nil
	})

	m, err := o.Compute(baseState(), nil)
	if err != nil {
		t.Fatalf("custom metric panic should not abort the tick: %v", err)
	}
	if !isNaN(m.Custom["boom"]) {
		t.Errorf("expected NaN for panicking metric, got %v", m.Custom["boom"])
	}
	if !isNaN(m.Custom["fails"]) {
		t.Errorf("expected NaN for failing metric, got %v", m.Custom["fails"])
	}
	if m.Custom["ok"] != 42 {
		t.Errorf("expected 42 for ok metric, got %v", m.Custom["ok"])
	}
}

func isNaN(f float64) bool { return f != f }

func TestComputeNilStateRecoversAsError(t *testing.T) {
	o := observer.New(zap.NewNop())
	_, err := o.Compute(nil, nil)
	if err == nil {
		t.Fatal("expected a nil state to be contained as an error, not a panic")
	}
}

func TestClassifyPinchScarce(t *testing.T) {
	o := observer.New(zap.NewNop())
	state := &types.EconomyState{
		Tick: 1, Roles: []string{"a"}, Resources: []string{"ore"}, Currencies: []string{"gold"},
		AgentBalances:    map[string]map[string]float64{"a1": {"gold": 1}},
		AgentRoles:       map[string]string{"a1": "a"},
		AgentInventories: map[string]map[string]float64{"a1": {"ore": 1}},
	}
	events := []types.EconomicEvent{
		{Kind: types.EventConsume, Resource: "ore", Amount: 10, Actor: "a1"},
	}
	m, err := o.Compute(state, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.PinchPoints["ore"] != types.PinchScarce {
		t.Errorf("expected scarce classification, got %v", m.PinchPoints["ore"])
	}
}
