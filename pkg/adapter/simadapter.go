package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/econregulator/regulator/pkg/types"
)

// SimAdapter is an in-memory HostAdapter that fabricates a plausible agent
// economy and advances it by one synthetic tick per GetState call. It
// exists so regulatord can run demo mode without a real game backend.
type SimAdapter struct {
	mu sync.Mutex
	rng *rand.Rand

	tick int64

	roles      []string
	resources  []string
	currencies []string
	systems    []string
	sources    []string
	sinks      []string

	balances     map[string]map[string]float64
	agentRoles   map[string]string
	inventories  map[string]map[string]float64
	prices       map[string]map[string]float64

	params map[string]float64

	handlers []func(types.EconomicEvent)
}

// NewSimAdapter seeds a synthetic population of agentCount agents across
// the given roles, resources, and currencies.
func NewSimAdapter(seed int64, agentCount int, roles, resources, currencies []string) *SimAdapter {
	a := &SimAdapter{
		rng:        rand.New(rand.NewSource(seed)),
		roles:      roles,
		resources:  resources,
		currencies: currencies,
		systems:    []string{"crafting", "market", "questing"},
		sources:    []string{"questReward", "marketSale"},
		sinks:      []string{"marketFee", "repairCost"},
		balances:     make(map[string]map[string]float64),
		agentRoles:   make(map[string]string),
		inventories:  make(map[string]map[string]float64),
		prices:       make(map[string]map[string]float64),
		params:       make(map[string]float64),
	}

	for _, c := range currencies {
		a.prices[c] = make(map[string]float64)
		for _, r := range resources {
			a.prices[c][r] = 1 + a.rng.Float64()*9
		}
	}

	for i := 0; i < agentCount; i++ {
		id := fmt.Sprintf("agent-%04d", i)
		role := roles[a.rng.Intn(len(roles))]
		a.agentRoles[id] = role

		a.balances[id] = make(map[string]float64)
		for _, c := range currencies {
			a.balances[id][c] = 10 + a.rng.Float64()*90
		}

		a.inventories[id] = make(map[string]float64)
		for _, r := range resources {
			if a.rng.Float64() < 0.4 {
				a.inventories[id][r] = a.rng.Float64() * 10
			}
		}
	}

	return a
}

// GetState advances the synthetic economy by one tick and returns the
// resulting snapshot.
func (a *SimAdapter) GetState(ctx context.Context) (*types.EconomyState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tick++
	events := a.advance()

	state := &types.EconomyState{
		Tick:               a.tick,
		Roles:              append([]string{}, a.roles...),
		Resources:          append([]string{}, a.resources...),
		Currencies:         append([]string{}, a.currencies...),
		AgentBalances:      cloneNested(a.balances),
		AgentRoles:         cloneFlat(a.agentRoles),
		AgentInventories:   cloneNested(a.inventories),
		MarketPrices:       cloneNested(a.prices),
		RecentTransactions: events,
		Systems:            append([]string{}, a.systems...),
		Sources:            append([]string{}, a.sources...),
		Sinks:              append([]string{}, a.sinks...),
	}
	return state, nil
}

// SetParam applies a regulator-issued adjustment to the in-memory
// parameter table. Idempotent: setting the same key to the same value
// twice is a no-op the second time.
func (a *SimAdapter) SetParam(ctx context.Context, key string, value float64, scope *types.ParameterScope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params[key] = value
	return nil
}

// OnEvent registers a push handler. SimAdapter never calls it directly
// (events are reported via RecentTransactions instead); it implements
// EventSource, so controller.New registers Controller.Ingest here.
func (a *SimAdapter) OnEvent(handler func(types.EconomicEvent)) {
	a.handlers = append(a.handlers, handler)
}

// advance runs one synthetic tick of agent activity: faucets, sinks,
// trades, and occasional churn, returning the events it produced.
func (a *SimAdapter) advance() []types.EconomicEvent {
	var events []types.EconomicEvent
	now := time.Now()

	ids := make([]string, 0, len(a.balances))
	for id := range a.balances {
		ids = append(ids, id)
	}

	yieldMultiplier := 1.0
	if v, ok := a.params["roleYieldMultiplier"]; ok && v > 0 {
		yieldMultiplier = v
	}
	sinkFeeRate := 0.05
	if v, ok := a.params["sinkFeeRate"]; ok && v > 0 {
		sinkFeeRate = v
	}

	for _, id := range ids {
		currency := a.currencies[a.rng.Intn(len(a.currencies))]

		switch {
		case a.rng.Float64() < 0.3: // faucet: quest reward
			amt := (5 + a.rng.Float64()*10) * yieldMultiplier
			a.balances[id][currency] += amt
			events = append(events, types.EconomicEvent{
				Kind: types.EventMint, Timestamp: now, Actor: id,
				Role: a.agentRoles[id], Currency: currency, Amount: amt,
				System: "questing", Source: "questReward",
			})
		case a.rng.Float64() < 0.2: // sink: repair cost
			amt := a.balances[id][currency] * sinkFeeRate
			a.balances[id][currency] -= amt
			events = append(events, types.EconomicEvent{
				Kind: types.EventBurn, Timestamp: now, Actor: id,
				Role: a.agentRoles[id], Currency: currency, Amount: amt,
				System: "crafting", Sink: "repairCost",
			})
		case a.rng.Float64() < 0.15 && len(ids) > 1: // trade with a random peer
			peer := ids[a.rng.Intn(len(ids))]
			if peer == id {
				continue
			}
			resource := a.resources[a.rng.Intn(len(a.resources))]
			price := a.prices[currency][resource]
			if a.balances[id][currency] < price {
				continue
			}
			a.balances[id][currency] -= price
			a.balances[peer][currency] += price
			a.inventories[peer][resource] += 1
			events = append(events, types.EconomicEvent{
				Kind: types.EventTrade, Timestamp: now, Actor: id,
				Role: a.agentRoles[id], Currency: currency, Amount: price,
				Price: price, Resource: resource, From: id, To: peer,
				System: "market",
			})
		case a.rng.Float64() < 0.01: // churn
			events = append(events, types.EconomicEvent{
				Kind: types.EventChurn, Timestamp: now, Actor: id,
				Role: a.agentRoles[id],
			})
		}
	}

	for c, byResource := range a.prices {
		for r, p := range byResource {
			drift := 1 + (a.rng.Float64()-0.5)*0.05
			a.prices[c][r] = max0(p * drift)
		}
	}

	return events
}

func max0(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	return v
}

func cloneFlat(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneNested(m map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(m))
	for k, v := range m {
		inner := make(map[string]float64, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		out[k] = inner
	}
	return out
}
