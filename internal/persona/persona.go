// Package persona classifies agents into behavioral personas from
// observable signals and reports the resulting distribution per tick.
package persona

import (
	"github.com/econregulator/regulator/pkg/types"
)

// Persona is one of the enumerated-but-extensible labels a PersonaTracker
// may assign.
type Persona string

const (
	Whale        Persona = "Whale"
	ActiveTrader Persona = "ActiveTrader"
	Accumulator  Persona = "Accumulator"
	Spender      Persona = "Spender"
	NewEntrant   Persona = "NewEntrant"
	AtRisk       Persona = "AtRisk"
	Dormant      Persona = "Dormant"
	PowerUser    Persona = "PowerUser"
	Passive      Persona = "Passive"
)

type agentHistory struct {
	firstSeenTick int64
	ticksSeen     int
}

// Tracker classifies each agent into a persona using observable signals
// and reports the distribution per tick.
type Tracker struct {
	history map[string]*agentHistory
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{history: make(map[string]*agentHistory)}
}

// Update classifies every agent present in state and returns the
// normalized persona distribution (shares sum to <= 1).
func (t *Tracker) Update(state *types.EconomyState, sat map[string]float64) map[string]float64 {
	totalBalance := 0.0
	balances := make(map[string]float64, len(state.AgentBalances))
	for agent, bals := range state.AgentBalances {
		var total float64
		for _, v := range bals {
			total += v
		}
		balances[agent] = total
		totalBalance += total
	}
	meanBalance := 0.0
	if len(balances) > 0 {
		meanBalance = totalBalance / float64(len(balances))
	}

	txCounts := make(map[string]int)
	for _, ev := range state.RecentTransactions {
		if ev.Actor != "" {
			txCounts[ev.Actor]++
		}
	}

	counts := make(map[Persona]int)
	total := 0
	for agent := range state.AgentBalances {
		h := t.history[agent]
		if h == nil {
			h = &agentHistory{firstSeenTick: state.Tick}
			t.history[agent] = h
		}
		h.ticksSeen++

		p := classify(agent, balances[agent], meanBalance, txCounts[agent], h, sat[agent])
		counts[p]++
		total++
	}

	dist := make(map[string]float64, len(counts))
	if total > 0 {
		for p, c := range counts {
			dist[string(p)] = float64(c) / float64(total)
		}
	}
	return dist
}

func classify(agent string, balance, meanBalance float64, txCount int, h *agentHistory, satisfaction float64) Persona {
	isNew := h.ticksSeen <= 5

	switch {
	case isNew:
		return NewEntrant
	case satisfaction > 0 && satisfaction < 25:
		return AtRisk
	case txCount == 0 && balance > 0:
		return Dormant
	case meanBalance > 0 && balance > 5*meanBalance:
		return Whale
	case txCount >= 10:
		return ActiveTrader
	case txCount >= 3:
		return PowerUser
	case meanBalance > 0 && balance > 1.5*meanBalance:
		return Accumulator
	case txCount > 0 && balance < 0.5*meanBalance:
		return Spender
	default:
		return Passive
	}
}
