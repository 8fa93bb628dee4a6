// Package simulator runs a forward Monte-Carlo projection over a
// lightweight reduced-order model of the economy, used to validate a
// candidate SuggestedAction before the Planner commits to it.
package simulator

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/pkg/types"
)

const (
	defaultForwardTicks = 20
	hardMinIterations   = 100
	defaultMagnitude    = 0.10
)

// Simulator runs Monte-Carlo trials over per-currency projections of
// supply, net flow, gini, velocity, and scalar satisfaction.
type Simulator struct {
	logger *zap.Logger
	rng    *rand.Rand

	cacheTick    int64
	cacheValid   bool
	cachedBefore map[string]bool // violated principle ids at the cached tick
}

// New creates a Simulator with a time-seeded RNG.
func New(logger *zap.Logger) *Simulator {
	return &Simulator{
		logger: logger.Named("simulator"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DiagnoseFunc mirrors Diagnoser.Diagnose's signature, passed in to avoid an
// import cycle between simulator and principles.
type DiagnoseFunc func(metrics *types.EconomyMetrics, thresholds types.Thresholds) []types.PrincipleViolation

// PrimeCache records the set of violated principle ids at the current tick,
// for later comparison in noNewProblems. Simulate calls it on entry, and
// repeated calls within one tick reuse the cached set; it is the single
// cache slot, evicted whenever the tick advances.
func (s *Simulator) PrimeCache(tick int64, currentMetrics *types.EconomyMetrics, thresholds types.Thresholds, diagnose DiagnoseFunc) {
	if s.cacheValid && s.cacheTick == tick {
		return
	}
	violations := diagnose(currentMetrics, thresholds)
	set := make(map[string]bool, len(violations))
	for _, v := range violations {
		set[v.PrincipleID] = true
	}
	s.cacheTick = tick
	s.cachedBefore = set
	s.cacheValid = true
}

type trial struct {
	satisfaction float64
	netFlow      map[string]float64
	gini         map[string]float64
}

// Simulate runs max(iterations, simulationMinIterations) forward trials of
// forwardTicks steps each, starting from the given metrics, and reports
// aggregate statistics plus the validation fields the Planner consults.
func (s *Simulator) Simulate(
	action types.SuggestedAction,
	currentMetrics *types.EconomyMetrics,
	thresholds types.Thresholds,
	iterations int,
	forwardTicks int,
	currentTick int64,
	totalAgents int,
	diagnose DiagnoseFunc,
) types.SimulationResult {
	if iterations < hardMinIterations {
		iterations = hardMinIterations
	}
	if iterations < thresholds.SimulationMinIterations {
		iterations = thresholds.SimulationMinIterations
	}
	if forwardTicks <= 0 {
		forwardTicks = defaultForwardTicks
	}

	s.PrimeCache(currentTick, currentMetrics, thresholds, diagnose)

	magnitude := defaultMagnitude
	if action.Magnitude != nil {
		magnitude = *action.Magnitude
	}

	trials := make([]trial, iterations)
	for i := 0; i < iterations; i++ {
		trials[i] = s.runTrial(action, currentMetrics, magnitude, forwardTicks, totalAgents)
	}

	sort.Slice(trials, func(i, j int) bool { return trials[i].satisfaction < trials[j].satisfaction })

	sats := make([]float64, len(trials))
	for i, t := range trials {
		sats[i] = t.satisfaction
	}

	p10 := percentile(sats, 0.10)
	p50 := percentile(sats, 0.50)
	mean, stddev := meanStdDev(sats)

	p50NetFlow := medianPerCurrency(trials, func(t trial) map[string]float64 { return t.netFlow })
	p50Gini := medianPerCurrency(trials, func(t trial) map[string]float64 { return t.gini })

	lagMultiplier := thresholds.GetOrDefault("lagMultiplierMin", 1.0)
	result := types.SimulationResult{
		Iterations:           iterations,
		ForwardTicks:         forwardTicks,
		P10Satisfaction:      p10,
		P50Satisfaction:      p50,
		MeanSatisfaction:     mean,
		ConfidenceInterval:   [2]float64{mean - 1.96*stddev, mean + 1.96*stddev},
		EstimatedEffectTick:  currentTick + int64(5*lagMultiplier),
		OvershootRisk:        overshootRisk(trials, currentMetrics),
		P50NetFlowByCurrency: p50NetFlow,
		P50GiniByCurrency:    p50Gini,
	}

	result.NetImprovement = netImprovement(result, currentMetrics)
	result.NoNewProblems = s.noNewProblems(p50NetFlow, p50Gini, currentMetrics, thresholds, diagnose)

	return result
}

func (s *Simulator) runTrial(action types.SuggestedAction, current *types.EconomyMetrics, magnitude float64, forwardTicks int, totalAgents int) trial {
	supply := cloneMap(current.SupplyByCurrency)
	netFlow := cloneMap(current.NetFlowByCurrency)
	gini := cloneMap(current.GiniByCurrency)
	velocity := cloneMap(current.VelocityByCurrency)
	satisfaction := current.AvgSatisfaction

	actionMultiplier := 1.0
	switch action.Direction {
	case types.DirectionDecrease:
		actionMultiplier = 1 - magnitude
	default:
		actionMultiplier = 1 + magnitude
	}

	for step := 0; step < forwardTicks; step++ {
		var avgNetFlow float64
		for currency := range supply {
			effect := 0.0
			if scopeMatches(action.Scope, currency) {
				effect = flowEffect(action, currency) * actionMultiplier * s.noise()
			}
			netFlow[currency] = 0.9*netFlow[currency] + 0.1*effect
			supply[currency] = math.Max(0, supply[currency]+netFlow[currency]*s.noise())
			gini[currency] = 0.99*gini[currency] + 0.0035*s.noise()
			if totalAgents > 0 {
				velocity[currency] = (supply[currency] / float64(max1(totalAgents))) * 0.01 * s.noise()
			}
			avgNetFlow += netFlow[currency]
		}
		if len(supply) > 0 {
			avgNetFlow /= float64(len(supply))
		}

		satDelta := 0.0
		switch {
		case avgNetFlow > 0 && avgNetFlow < 20:
			satDelta = 0.5
		case avgNetFlow < 0:
			satDelta = -1
		}
		satisfaction = clamp(satisfaction+satDelta*s.noise(), 0, 100)
	}

	return trial{satisfaction: satisfaction, netFlow: netFlow, gini: gini}
}

// noise returns 1 + (U(0,1) - 0.5) * 0.1.
func (s *Simulator) noise() float64 {
	return 1 + (s.rng.Float64()-0.5)*0.1
}

// flowEffect encodes the directional impact of common parameter types on a
// currency's net flow: fees and taxes act as sinks (negative flow when
// increased), yields and rewards act as faucets (positive flow when
// increased). Unknown parameter types get half the base effect, in the
// direction of the change.
func flowEffect(action types.SuggestedAction, currency string) float64 {
	base := baseFlowMagnitude(currency)
	sign := 1.0
	if action.Direction == types.DirectionDecrease {
		sign = -1
	}

	switch {
	case containsAny(action.ParameterType, "fee", "tax", "cost", "sink"):
		return -sign * base
	case containsAny(action.ParameterType, "yield", "reward", "faucet", "spawn"):
		return sign * base
	default:
		return sign * base * 0.5
	}
}

func baseFlowMagnitude(currency string) float64 {
	if currency == "" {
		return 1.0
	}
	return 1.0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexFold(s, sub) {
			return true
		}
	}
	return false
}

func indexFold(s, sub string) bool {
	lowerS, lowerSub := toLower(s), toLower(sub)
	for i := 0; i+len(lowerSub) <= len(lowerS); i++ {
		if lowerS[i:i+len(lowerSub)] == lowerSub {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func scopeMatches(scope *types.ParameterScope, currency string) bool {
	if scope == nil || scope.Currency == "" {
		return true
	}
	return scope.Currency == currency
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanStdDev(vs []float64) (mean, stddev float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	for _, v := range vs {
		mean += v
	}
	mean /= float64(len(vs))
	var variance float64
	for _, v := range vs {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vs))
	return mean, math.Sqrt(variance)
}

func medianPerCurrency(trials []trial, extract func(trial) map[string]float64) map[string]float64 {
	byCurrency := map[string][]float64{}
	for _, t := range trials {
		for currency, v := range extract(t) {
			byCurrency[currency] = append(byCurrency[currency], v)
		}
	}
	out := make(map[string]float64, len(byCurrency))
	for currency, vs := range byCurrency {
		sort.Float64s(vs)
		out[currency] = percentile(vs, 0.50)
	}
	return out
}

// overshootRisk is the fraction of the top-20% trials (by satisfaction)
// whose net flow magnitude, averaged across currencies, exceeds twice the
// current average net flow magnitude.
func overshootRisk(trials []trial, current *types.EconomyMetrics) float64 {
	if len(trials) == 0 {
		return 0
	}
	cutoff := int(float64(len(trials)) * 0.8)
	top := trials[cutoff:]
	if len(top) == 0 {
		return 0
	}

	currentAvg := math.Abs(current.AvgNetFlow)
	exceeding := 0
	for _, t := range top {
		var avg float64
		for _, v := range t.netFlow {
			avg += math.Abs(v)
		}
		if len(t.netFlow) > 0 {
			avg /= float64(len(t.netFlow))
		}
		if avg > 2*currentAvg {
			exceeding++
		}
	}
	return float64(exceeding) / float64(len(top))
}

func netImprovement(result types.SimulationResult, current *types.EconomyMetrics) bool {
	if result.P50Satisfaction < current.AvgSatisfaction-2 {
		return false
	}
	for currency, beforeFlow := range current.NetFlowByCurrency {
		afterFlow, ok := result.P50NetFlowByCurrency[currency]
		if !ok {
			continue
		}
		limit := math.Abs(beforeFlow) * 1.2
		if limit < 1 {
			limit = 1
		}
		if math.Abs(afterFlow) > limit {
			return false
		}
	}
	for currency, beforeGini := range current.GiniByCurrency {
		afterGini, ok := result.P50GiniByCurrency[currency]
		if !ok {
			continue
		}
		if afterGini > beforeGini+0.05 {
			return false
		}
	}
	return true
}

// noNewProblems projects p50 metrics forward and checks that its violated
// principle-id set is a subset of the cached before-set.
func (s *Simulator) noNewProblems(p50NetFlow, p50Gini map[string]float64, current *types.EconomyMetrics, thresholds types.Thresholds, diagnose DiagnoseFunc) bool {
	projected := *current
	projected.NetFlowByCurrency = p50NetFlow
	projected.GiniByCurrency = p50Gini
	if len(p50Gini) > 0 {
		var sum float64
		for _, g := range p50Gini {
			sum += g
		}
		projected.GiniCoefficient = sum / float64(len(p50Gini))
	}

	after := diagnose(&projected, thresholds)
	for _, v := range after {
		if !s.cachedBefore[v.PrincipleID] {
			return false
		}
	}
	return true
}
