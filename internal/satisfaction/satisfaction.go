// Package satisfaction estimates a per-agent smoothed satisfaction score
// when the host does not supply agentSatisfaction directly.
package satisfaction

import (
	"math"

	"github.com/econregulator/regulator/pkg/types"
)

const (
	defaultWindow             = 30
	defaultAlpha              = 0.15
	defaultInactivityThreshold = 10
)

type window struct {
	balances    []float64
	txCounts    []int
	inventories []int
	lastSeenTick int64
	score       float64
	hasScore    bool
}

// Estimator computes smoothed per-agent satisfaction scores from bounded
// rolling windows of balance, transaction, and inventory history.
type Estimator struct {
	windowSize          int
	alpha               float64
	inactivityThreshold int64

	agents map[string]*window
}

// New creates an Estimator with the spec's default window, smoothing
// factor, and inactivity threshold.
func New() *Estimator {
	return &Estimator{
		windowSize:          defaultWindow,
		alpha:               defaultAlpha,
		inactivityThreshold: defaultInactivityThreshold,
		agents:              make(map[string]*window),
	}
}

// Update folds the current tick's state into each agent's rolling window
// and returns a fresh smoothed agentSatisfaction map. Agents absent for 2x
// the window are pruned.
func (e *Estimator) Update(state *types.EconomyState) map[string]float64 {
	out := make(map[string]float64, len(state.AgentBalances))

	populationMedianBalance := medianOfTotals(state.AgentBalances)

	for agent, balances := range state.AgentBalances {
		w := e.agents[agent]
		if w == nil {
			w = &window{}
			e.agents[agent] = w
		}
		w.lastSeenTick = state.Tick

		total := sumValues(balances)
		w.balances = pushBounded(w.balances, total, e.windowSize)

		txCount := countTransactionsFor(state.RecentTransactions, agent)
		w.txCounts = pushBoundedInt(w.txCounts, txCount, e.windowSize)

		invSize := len(state.AgentInventories[agent])
		w.inventories = pushBoundedInt(w.inventories, invSize, e.windowSize)

		raw := computeRaw(w, total, populationMedianBalance, trailingInactivity(w.txCounts))
		if !w.hasScore {
			w.score = raw
			w.hasScore = true
		} else {
			w.score = clamp(w.score*(1-e.alpha)+raw*e.alpha, 0, 100)
		}
		out[agent] = w.score
	}

	e.prune(state.Tick)
	return out
}

func (e *Estimator) prune(currentTick int64) {
	threshold := int64(2 * e.windowSize)
	for agent, w := range e.agents {
		if currentTick-w.lastSeenTick > threshold {
			delete(e.agents, agent)
		}
	}
}

// computeRaw sums five bounded-contribution components into a 0..100 score.
func computeRaw(w *window, currentBalance, populationMedian float64, inactivityTicks int64) float64 {
	score := 50.0 // neutral baseline before contributions

	score += clamp(balanceTrajectory(w.balances), -15, 15)
	score += clamp(transactionEngagement(w.txCounts), -15, 15)
	score += clamp(inventoryDiversity(w.inventories), -10, 10)
	score += clamp(standingVsMedian(currentBalance, populationMedian), -10, 10)
	score -= clamp(inactivityPenalty(inactivityTicks), 0, 20)

	return clamp(score, 0, 100)
}

func balanceTrajectory(balances []float64) float64 {
	if len(balances) < 2 {
		return 0
	}
	first, last := balances[0], balances[len(balances)-1]
	if first == 0 {
		if last > 0 {
			return 15
		}
		return 0
	}
	pctChange := (last - first) / math.Abs(first)
	return pctChange * 15
}

func transactionEngagement(counts []int) float64 {
	if len(counts) < 2 {
		return 0
	}
	var total int
	for _, c := range counts {
		total += c
	}
	avg := float64(total) / float64(len(counts))
	recent := float64(counts[len(counts)-1])
	if avg == 0 {
		if recent > 0 {
			return 15
		}
		return 0
	}
	return clamp((recent-avg)/avg*15, -15, 15)
}

func inventoryDiversity(sizes []int) float64 {
	if len(sizes) == 0 {
		return 0
	}
	latest := sizes[len(sizes)-1]
	switch {
	case latest >= 5:
		return 10
	case latest >= 2:
		return 5
	default:
		return 0
	}
}

func standingVsMedian(balance, median float64) float64 {
	if median <= 0 {
		return 0
	}
	ratio := balance / median
	switch {
	case ratio >= 2:
		return 10
	case ratio >= 0.6:
		return 0
	case ratio >= 0.3:
		return -5
	default:
		return -10
	}
}

func inactivityPenalty(ticksSinceActive int64) float64 {
	if ticksSinceActive <= defaultInactivityThreshold {
		return 0
	}
	excess := float64(ticksSinceActive - defaultInactivityThreshold)
	return math.Min(20, excess)
}

// trailingInactivity counts the number of consecutive zero-transaction
// ticks at the end of the window, i.e. ticks since the agent was last
// observed transacting.
func trailingInactivity(counts []int) int64 {
	var n int64
	for i := len(counts) - 1; i >= 0; i-- {
		if counts[i] != 0 {
			break
		}
		n++
	}
	return n
}

func sumValues(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

func countTransactionsFor(events []types.EconomicEvent, agent string) int {
	count := 0
	for _, ev := range events {
		if ev.Actor == agent || ev.From == agent || ev.To == agent {
			count++
		}
	}
	return count
}

func medianOfTotals(balances map[string]map[string]float64) float64 {
	totals := make([]float64, 0, len(balances))
	for _, b := range balances {
		totals = append(totals, sumValues(b))
	}
	if len(totals) == 0 {
		return 0
	}
	// simple insertion sort; agent counts are small relative to tick budget
	for i := 1; i < len(totals); i++ {
		for j := i; j > 0 && totals[j-1] > totals[j]; j-- {
			totals[j-1], totals[j] = totals[j], totals[j-1]
		}
	}
	n := len(totals)
	if n%2 == 0 {
		return (totals[n/2-1] + totals[n/2]) / 2
	}
	return totals[n/2]
}

func pushBounded(s []float64, v float64, max int) []float64 {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func pushBoundedInt(s []int, v int, max int) []int {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
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
