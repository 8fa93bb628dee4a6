package validation_test

import (
	"testing"

	"github.com/econregulator/regulator/internal/validation"
	"github.com/econregulator/regulator/pkg/types"
)

func validState() *types.EconomyState {
	return &types.EconomyState{
		Tick:       1,
		Roles:      []string{"trader"},
		Currencies: []string{"gold"},
		AgentBalances: map[string]map[string]float64{
			"a1": {"gold": 100},
		},
		AgentRoles: map[string]string{"a1": "trader"},
	}
}

func hasError(res validation.Result, path string) bool {
	for _, e := range res.Errors {
		if e.Path == path {
			return true
		}
	}
	return false
}

func hasWarning(res validation.Result, pathPrefix string) bool {
	for _, w := range res.Warnings {
		if len(w.Path) >= len(pathPrefix) && w.Path[:len(pathPrefix)] == pathPrefix {
			return true
		}
	}
	return false
}

func TestValidateStateValidIsClean(t *testing.T) {
	res := validation.ValidateState(validState())
	if !res.Valid || len(res.Errors) != 0 {
		t.Fatalf("expected a valid state to pass cleanly, got %+v", res)
	}
}

func TestValidateStateNilState(t *testing.T) {
	res := validation.ValidateState(nil)
	if res.Valid {
		t.Fatal("expected a nil state to be invalid")
	}
}

func TestValidateStateNegativeTick(t *testing.T) {
	s := validState()
	s.Tick = -1
	res := validation.ValidateState(s)
	if res.Valid || !hasError(res, "tick") {
		t.Fatalf("expected a tick error, got %+v", res)
	}
}

func TestValidateStateEmptyRolesAndCurrencies(t *testing.T) {
	s := validState()
	s.Roles = nil
	s.Currencies = nil
	res := validation.ValidateState(s)
	if !hasError(res, "roles") || !hasError(res, "currencies") {
		t.Fatalf("expected roles and currencies errors, got %+v", res)
	}
}

func TestValidateStateUndeclaredBalanceCurrency(t *testing.T) {
	s := validState()
	s.AgentBalances["a1"]["silver"] = 10
	res := validation.ValidateState(s)
	if !hasError(res, "agentBalances.a1.silver") {
		t.Fatalf("expected an undeclared-currency error, got %+v", res)
	}
}

func TestValidateStateNegativeBalance(t *testing.T) {
	s := validState()
	s.AgentBalances["a1"]["gold"] = -5
	res := validation.ValidateState(s)
	if !hasError(res, "agentBalances.a1.gold") {
		t.Fatalf("expected a negative-balance error, got %+v", res)
	}
}

func TestValidateStateUnheldCurrencyWarns(t *testing.T) {
	s := validState()
	s.Currencies = append(s.Currencies, "silver")
	res := validation.ValidateState(s)
	if !hasWarning(res, "currencies.silver") {
		t.Fatalf("expected a warning for a currency with no holder, got %+v", res)
	}
}

func TestValidateStateUndeclaredRole(t *testing.T) {
	s := validState()
	s.AgentRoles["a1"] = "ghost"
	res := validation.ValidateState(s)
	if !hasError(res, "agentRoles.a1") {
		t.Fatalf("expected an undeclared-role error, got %+v", res)
	}
}

func TestValidateStateBalanceWithoutRoleWarns(t *testing.T) {
	s := validState()
	s.AgentBalances["a2"] = map[string]float64{"gold": 50}
	res := validation.ValidateState(s)
	if !hasWarning(res, "agentRoles.a2") {
		t.Fatalf("expected a warning for a balance-holding agent with no role, got %+v", res)
	}
}

func TestValidateStateUndeclaredMarketPriceCurrency(t *testing.T) {
	s := validState()
	s.MarketPrices = map[string]map[string]float64{"silver": {"ore": 1}}
	res := validation.ValidateState(s)
	if !hasError(res, "marketPrices.silver") {
		t.Fatalf("expected an undeclared-currency market price error, got %+v", res)
	}
}

func TestValidateStateNegativeMarketPrice(t *testing.T) {
	s := validState()
	s.MarketPrices = map[string]map[string]float64{"gold": {"ore": -1}}
	res := validation.ValidateState(s)
	if !hasError(res, "marketPrices.gold.ore") {
		t.Fatalf("expected a negative-price error, got %+v", res)
	}
}

func TestValidateStateSatisfactionOutOfRange(t *testing.T) {
	s := validState()
	s.AgentSatisfaction = map[string]float64{"a1": 150}
	res := validation.ValidateState(s)
	if !hasError(res, "agentSatisfaction.a1") {
		t.Fatalf("expected an out-of-range satisfaction error, got %+v", res)
	}
}

func TestValidateStateNegativePoolSize(t *testing.T) {
	s := validState()
	s.PoolSizes = map[string]map[string]float64{"market": {"gold": -10}}
	res := validation.ValidateState(s)
	if !hasError(res, "poolSizes.market.gold") {
		t.Fatalf("expected a negative-pool-size error, got %+v", res)
	}
}

func TestValidateStateTransactionUnknownCurrencyWarns(t *testing.T) {
	s := validState()
	s.RecentTransactions = []types.EconomicEvent{{Currency: "silver"}}
	res := validation.ValidateState(s)
	if !hasWarning(res, "recentTransactions[0].currency") {
		t.Fatalf("expected a warning for an unknown transaction currency, got %+v", res)
	}
}
