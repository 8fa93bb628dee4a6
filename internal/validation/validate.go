// Package validation inspects an EconomyState before it enters the
// pipeline, per spec §6.4.
package validation

import (
	"fmt"

	"github.com/econregulator/regulator/internal/regerrors"
	"github.com/econregulator/regulator/pkg/types"
)

// Result is the outcome of validating an EconomyState.
type Result struct {
	Valid    bool                       `json:"valid"`
	Errors   []regerrors.FieldError     `json:"errors"`
	Warnings []regerrors.FieldError     `json:"warnings"`
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ValidateState checks every field of an EconomyState named in spec §6.4.
func ValidateState(state *types.EconomyState) Result {
	res := Result{Valid: true}

	addErr := func(path, expected, received, msg string) {
		res.Valid = false
		res.Errors = append(res.Errors, regerrors.FieldError{
			Path: path, Expected: expected, Received: received, Message: msg,
		})
	}
	addWarn := func(path, msg string) {
		res.Warnings = append(res.Warnings, regerrors.FieldError{Path: path, Message: msg})
	}

	if state == nil {
		addErr("", "EconomyState", "nil", "state must not be nil")
		return res
	}

	if state.Tick < 0 {
		addErr("tick", "non-negative integer", fmt.Sprintf("%d", state.Tick), "tick must be non-negative")
	}

	if len(state.Roles) == 0 {
		addErr("roles", "non-empty string sequence", "[]", "roles must be non-empty")
	}
	if len(state.Currencies) == 0 {
		addErr("currencies", "non-empty string sequence", "[]", "currencies must be non-empty")
	}

	holders := map[string]bool{}
	for agent, balances := range state.AgentBalances {
		for curr, amount := range balances {
			if !contains(state.Currencies, curr) {
				addErr(fmt.Sprintf("agentBalances.%s.%s", agent, curr), "declared currency", curr, "balance currency not declared")
			} else if amount > 0 {
				holders[curr] = true
			}
			if amount < 0 {
				addErr(fmt.Sprintf("agentBalances.%s.%s", agent, curr), "non-negative number", fmt.Sprintf("%v", amount), "balance must be non-negative")
			}
		}
	}

	for _, curr := range state.Currencies {
		if !holders[curr] {
			addWarn(fmt.Sprintf("currencies.%s", curr), "declared currency has no holder")
		}
	}

	for agent, role := range state.AgentRoles {
		if !contains(state.Roles, role) {
			addErr(fmt.Sprintf("agentRoles.%s", agent), "declared role", role, "agent role not declared")
		}
	}
	for agent := range state.AgentBalances {
		if _, ok := state.AgentRoles[agent]; !ok {
			hasBalance := false
			for _, amt := range state.AgentBalances[agent] {
				if amt > 0 {
					hasBalance = true
					break
				}
			}
			if hasBalance {
				addWarn(fmt.Sprintf("agentRoles.%s", agent), "agent has balance but no role")
			}
		}
	}

	for curr, prices := range state.MarketPrices {
		if !contains(state.Currencies, curr) {
			addErr(fmt.Sprintf("marketPrices.%s", curr), "declared currency", curr, "price currency not declared")
			continue
		}
		for res, price := range prices {
			if price < 0 {
				addErr(fmt.Sprintf("marketPrices.%s.%s", curr, res), "non-negative number", fmt.Sprintf("%v", price), "price must be non-negative")
			}
		}
	}

	for agent, sat := range state.AgentSatisfaction {
		if sat < 0 || sat > 100 {
			addErr(fmt.Sprintf("agentSatisfaction.%s", agent), "[0,100]", fmt.Sprintf("%v", sat), "satisfaction must be in [0,100]")
		}
	}

	for pool, balances := range state.PoolSizes {
		for curr, amount := range balances {
			if amount < 0 {
				addErr(fmt.Sprintf("poolSizes.%s.%s", pool, curr), "non-negative number", fmt.Sprintf("%v", amount), "pool size must be non-negative")
			}
		}
	}

	for i, ev := range state.RecentTransactions {
		if ev.Currency != "" && !contains(state.Currencies, ev.Currency) {
			addWarn(fmt.Sprintf("recentTransactions[%d].currency", i), "event references unknown currency")
		}
	}

	return res
}
