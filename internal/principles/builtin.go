package principles

import (
	"fmt"

	"github.com/econregulator/regulator/pkg/types"
)

// dominantRoleThreshold is the default role-share cutoff above which a
// single role is considered to be crowding out the rest of the population.
const dominantRoleThreshold = 0.35

// RegisterDefaults installs the built-in principle set onto d. dominantRoles
// are exempt from the crowding/profitability checks (e.g. a moderator role
// that is expected to dominate headcount).
func RegisterDefaults(d *Diagnoser, dominantRoles []string) {
	exempt := map[string]bool{}
	for _, r := range dominantRoles {
		exempt[r] = true
	}

	d.Add(&profitabilityCompetitive{exempt: exempt})
	d.Add(&wealthConcentration{})
	d.Add(&faucetSinkImbalance{})
	d.Add(&populationChurn{})
	d.Add(&resourceScarcity{})
}

// profitabilityCompetitive fires when a single non-exempt role's population
// share crosses dominantRoleThreshold, crowding out the rest of the
// population's economic opportunity. Maps to id "P5" in operator tooling.
type profitabilityCompetitive struct {
	exempt map[string]bool
}

func (p *profitabilityCompetitive) ID() string          { return "P5" }
func (p *profitabilityCompetitive) Name() string         { return "Profitability Is Competitive" }
func (p *profitabilityCompetitive) Category() string     { return "population" }
func (p *profitabilityCompetitive) Description() string {
	return "no single role should crowd out competitive opportunity for the rest of the population"
}

func (p *profitabilityCompetitive) Check(m *types.EconomyMetrics, thresholds types.Thresholds) types.PrincipleResult {
	cutoff := thresholds.GetOrDefault("dominantRoleShare", dominantRoleThreshold)

	var dominantRole string
	var dominantShare float64
	for role, share := range m.RoleShares {
		if p.exempt[role] {
			continue
		}
		if share > dominantShare {
			dominantShare = share
			dominantRole = role
		}
	}

	if dominantRole == "" || dominantShare <= cutoff {
		return types.PrincipleResult{Violated: false}
	}

	excess := dominantShare - cutoff
	severity := 5 + excess*20
	magnitude := 0.10
	direction := types.DirectionDecrease

	return types.PrincipleResult{
		Violated:   true,
		Severity:   severity,
		Confidence: 0.8,
		Evidence: map[string]any{
			"dominantRole":  dominantRole,
			"dominantShare": dominantShare,
		},
		SuggestedAction: &types.SuggestedAction{
			ParameterType: "roleYieldMultiplier",
			Direction:     direction,
			Magnitude:     &magnitude,
			Scope:         &types.ParameterScope{Tags: []string{dominantRole}},
			Reasoning: fmt.Sprintf("role %s holds %.0f%% of the population, crowding out competitive profitability for the rest",
				dominantRole, dominantShare*100),
		},
		EstimatedLag: 10,
	}
}

// wealthConcentration fires when the Gini coefficient (averaged across
// currencies) crosses a threshold indicating runaway wealth concentration.
type wealthConcentration struct{}

func (p *wealthConcentration) ID() string          { return "P1" }
func (p *wealthConcentration) Name() string         { return "Wealth Concentration Is Bounded" }
func (p *wealthConcentration) Category() string     { return "wealth" }
func (p *wealthConcentration) Description() string {
	return "no currency's wealth distribution should drift toward extreme concentration"
}

func (p *wealthConcentration) Check(m *types.EconomyMetrics, thresholds types.Thresholds) types.PrincipleResult {
	cutoff := thresholds.GetOrDefault("giniCeiling", 0.6)
	if m.GiniCoefficient <= cutoff {
		return types.PrincipleResult{Violated: false}
	}

	severity := (m.GiniCoefficient - cutoff) * 25
	magnitude := 0.10
	return types.PrincipleResult{
		Violated:   true,
		Severity:   severity,
		Confidence: 0.7,
		Evidence: map[string]any{
			"giniCoefficient": m.GiniCoefficient,
		},
		SuggestedAction: &types.SuggestedAction{
			ParameterType: "wealthTaxRate",
			Direction:     types.DirectionIncrease,
			Magnitude:     &magnitude,
			Reasoning:     fmt.Sprintf("gini coefficient %.2f exceeds ceiling %.2f", m.GiniCoefficient, cutoff),
		},
		EstimatedLag: 15,
	}
}

// faucetSinkImbalance fires when the average tap/sink ratio rises above a
// ceiling (tapSinkCeiling, default 5), signaling runaway inflation. A ratio
// far below parity is not flagged.
type faucetSinkImbalance struct{}

func (p *faucetSinkImbalance) ID() string          { return "P2" }
func (p *faucetSinkImbalance) Name() string         { return "Faucets And Sinks Stay Balanced" }
func (p *faucetSinkImbalance) Category() string     { return "flow" }
func (p *faucetSinkImbalance) Description() string {
	return "currency creation and destruction should not drift too far out of balance"
}

func (p *faucetSinkImbalance) Check(m *types.EconomyMetrics, thresholds types.Thresholds) types.PrincipleResult {
	ceiling := thresholds.GetOrDefault("tapSinkCeiling", 5.0)
	if m.AvgTapSinkRatio <= ceiling {
		return types.PrincipleResult{Violated: false}
	}

	severity := (m.AvgTapSinkRatio - ceiling) * 0.5
	if severity > 10 {
		severity = 10
	}
	magnitude := 0.10
	return types.PrincipleResult{
		Violated:   true,
		Severity:   severity,
		Confidence: 0.75,
		Evidence: map[string]any{
			"avgTapSinkRatio": m.AvgTapSinkRatio,
		},
		SuggestedAction: &types.SuggestedAction{
			ParameterType: "sinkFeeRate",
			Direction:     types.DirectionIncrease,
			Magnitude:     &magnitude,
			Reasoning:     fmt.Sprintf("tap/sink ratio %.2f exceeds ceiling %.2f", m.AvgTapSinkRatio, ceiling),
		},
		EstimatedLag: 8,
	}
}

// populationChurn fires when churn rate exceeds a threshold, signaling
// unsustainable attrition.
type populationChurn struct{}

func (p *populationChurn) ID() string          { return "P3" }
func (p *populationChurn) Name() string         { return "Churn Stays Sustainable" }
func (p *populationChurn) Category() string     { return "population" }
func (p *populationChurn) Description() string {
	return "churn rate should not exceed sustainable attrition"
}

func (p *populationChurn) Check(m *types.EconomyMetrics, thresholds types.Thresholds) types.PrincipleResult {
	ceiling := thresholds.GetOrDefault("churnCeiling", 0.05)
	if m.ChurnRate <= ceiling {
		return types.PrincipleResult{Violated: false}
	}

	severity := (m.ChurnRate - ceiling) * 100
	magnitude := 0.10
	return types.PrincipleResult{
		Violated:   true,
		Severity:   severity,
		Confidence: 0.6,
		Evidence: map[string]any{
			"churnRate": m.ChurnRate,
		},
		SuggestedAction: &types.SuggestedAction{
			ParameterType: "newEntrantReward",
			Direction:     types.DirectionIncrease,
			Magnitude:     &magnitude,
			Reasoning:     fmt.Sprintf("churn rate %.3f exceeds ceiling %.3f", m.ChurnRate, ceiling),
		},
		EstimatedLag: 20,
	}
}

// resourceScarcity fires when any resource is classified scarce, signaling
// a pinch point constraining downstream activity.
type resourceScarcity struct{}

func (p *resourceScarcity) ID() string          { return "P4" }
func (p *resourceScarcity) Name() string         { return "Resources Avoid Scarcity Pinch Points" }
func (p *resourceScarcity) Category() string     { return "resources" }
func (p *resourceScarcity) Description() string {
	return "no resource should sustain a scarce supply/demand ratio"
}

func (p *resourceScarcity) Check(m *types.EconomyMetrics, thresholds types.Thresholds) types.PrincipleResult {
	var scarceResource string
	for res, class := range m.PinchPoints {
		if class == types.PinchScarce {
			scarceResource = res
			break
		}
	}
	if scarceResource == "" {
		return types.PrincipleResult{Violated: false}
	}

	magnitude := 0.10
	return types.PrincipleResult{
		Violated:   true,
		Severity:   4,
		Confidence: 0.5,
		Evidence: map[string]any{
			"resource": scarceResource,
		},
		SuggestedAction: &types.SuggestedAction{
			ParameterType: "resourceSpawnRate",
			Direction:     types.DirectionIncrease,
			Magnitude:     &magnitude,
			Scope:         &types.ParameterScope{Tags: []string{scarceResource}},
			Reasoning:     fmt.Sprintf("resource %s is scarce (supply/demand below 0.5)", scarceResource),
		},
		EstimatedLag: 12,
	}
}
