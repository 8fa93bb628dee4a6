// Package observer computes per-tick EconomyMetrics from an EconomyState
// and the events that occurred since the last tick.
package observer

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/pkg/types"
)

// CustomMetric is a developer-supplied callable evaluated against the raw
// state each tick. Failures are contained: the metric is set to NaN and a
// warning is logged, the tick is never aborted.
type CustomMetric func(state *types.EconomyState) (float64, error)

// Observer computes EconomyMetrics, carrying the memory of the previous
// snapshot and the first-tick anchor baselines required for inflation and
// anchor-drift derivations.
type Observer struct {
	logger *zap.Logger

	prevSupply map[string]float64
	prevPrices map[string]map[string]float64
	baseline   map[string]float64 // currency -> baseline currency-per-agent

	custom map[string]CustomMetric
}

// New creates an Observer with no prior memory.
func New(logger *zap.Logger) *Observer {
	return &Observer{
		logger:     logger.Named("observer"),
		prevSupply: make(map[string]float64),
		prevPrices: make(map[string]map[string]float64),
		baseline:   make(map[string]float64),
		custom:     make(map[string]CustomMetric),
	}
}

// RegisterCustomMetric adds a named callable; registering the same name
// again overwrites the earlier callable.
func (o *Observer) RegisterCustomMetric(name string, fn CustomMetric) {
	o.custom[name] = fn
}

type currencyAccum struct {
	faucet       float64
	sink         float64
	tradeCount   int
	giftTrades   int
	disposals    int
	totalTrades  int
}

// Compute derives EconomyMetrics for the given state. Any internally
// recovered failure is surfaced as an error; the caller treats a failed
// compute as skip-this-tick.
func (o *Observer) Compute(state *types.EconomyState, events []types.EconomicEvent) (m *types.EconomyMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("observer panicked, containing as failure", zap.Any("recover", r))
			m = nil
			err = errObserverPanic
		}
	}()

	m = &types.EconomyMetrics{
		Tick:                 state.Tick,
		SupplyByCurrency:     map[string]float64{},
		NetFlowByCurrency:    map[string]float64{},
		VelocityByCurrency:   map[string]float64{},
		InflationByCurrency:  map[string]float64{},
		FaucetVolumeByCurrency: map[string]float64{},
		SinkVolumeByCurrency:   map[string]float64{},
		TapSinkRatioByCurrency: map[string]float64{},
		AnchorDriftByCurrency:  map[string]float64{},
		GiniByCurrency:         map[string]float64{},
		MeanBalanceByCurrency:  map[string]float64{},
		MedianBalanceByCurrency: map[string]float64{},
		Top10PctShareByCurrency: map[string]float64{},
		MeanMedianDivergenceByCurrency: map[string]float64{},
		PriceIndexByCurrency:   map[string]float64{},
		PricesByCurrency:       map[string]map[string]float64{},
		PriceVolatilityByCurrency: map[string]map[string]float64{},
		ArbitrageIndexByCurrency:  map[string]float64{},
		GiftTradeRatioByCurrency:  map[string]float64{},
		DisposalTradeRatioByCurrency: map[string]float64{},
		PopulationByRole:       map[string]int{},
		RoleShares:             map[string]float64{},
		ChurnByRole:            map[string]int{},
		ResourceSupply:         map[string]float64{},
		ResourceDemand:         map[string]float64{},
		PinchPoints:            map[string]types.PinchClass{},
		FlowBySystem:           map[string]float64{},
		ActivityBySystem:       map[string]int{},
		ParticipantsBySystem:   map[string]int{},
		FlowBySource:           map[string]float64{},
		FlowBySink:             map[string]float64{},
		SourceShare:            map[string]float64{},
		SinkShare:              map[string]float64{},
		Custom:                 map[string]float64{},
	}

	accum := map[string]*currencyAccum{}
	for _, c := range state.Currencies {
		accum[c] = &currencyAccum{}
	}
	defaultCurrency := state.DefaultCurrency()

	systemParticipants := map[string]map[string]bool{}
	sourceTotal, sinkTotal := 0.0, 0.0

	churnCount := 0

	for _, ev := range events {
		curr := ev.Currency
		if curr == "" {
			curr = defaultCurrency
		}
		a := accum[curr]
		if a == nil {
			a = &currencyAccum{}
			accum[curr] = a
		}

		switch ev.Kind {
		case types.EventMint, types.EventEnter:
			a.faucet += ev.Amount
		case types.EventBurn, types.EventConsume:
			a.sink += ev.Amount
		case types.EventTrade:
			a.totalTrades++
			marketPrice := 0.0
			if prices, ok := state.MarketPrices[curr]; ok {
				marketPrice = prices[ev.Resource]
			}
			if ev.Price == 0 || (marketPrice > 0 && ev.Price < 0.3*marketPrice) {
				a.giftTrades++
			}
			if isDisposal(state, ev) {
				a.disposals++
			}
		case types.EventRoleChange:
			// handled in population pass below
		case types.EventChurn:
			churnCount++
			if ev.Role != "" {
				m.ChurnByRole[ev.Role]++
			}
		}

		if ev.System != "" && ev.Kind != types.EventEnter {
			switch ev.Kind {
			case types.EventMint:
				m.FlowBySystem[ev.System] += ev.Amount
			case types.EventBurn, types.EventConsume:
				m.FlowBySystem[ev.System] -= ev.Amount
			}
			m.ActivityBySystem[ev.System]++
			if systemParticipants[ev.System] == nil {
				systemParticipants[ev.System] = map[string]bool{}
			}
			systemParticipants[ev.System][ev.Actor] = true
		}

		if ev.Kind != types.EventEnter {
			if ev.Source != "" {
				m.FlowBySource[ev.Source] += ev.Amount
				sourceTotal += ev.Amount
			}
			if ev.Sink != "" {
				m.FlowBySink[ev.Sink] += ev.Amount
				sinkTotal += ev.Amount
			}
		}
	}

	for sys, set := range systemParticipants {
		m.ParticipantsBySystem[sys] = len(set)
	}
	if sourceTotal > 0 {
		for src, v := range m.FlowBySource {
			m.SourceShare[src] = v / sourceTotal
		}
	}
	if sinkTotal > 0 {
		for snk, v := range m.FlowBySink {
			m.SinkShare[snk] = v / sinkTotal
		}
	}

	totalAgents := len(state.AgentBalances)
	m.TotalAgents = totalAgents

	balancesByCurrency := map[string][]float64{}
	for _, balances := range state.AgentBalances {
		for curr, amount := range balances {
			balancesByCurrency[curr] = append(balancesByCurrency[curr], amount)
		}
	}

	var totalSupplySum float64
	for _, curr := range state.Currencies {
		a := accum[curr]
		if a == nil {
			a = &currencyAccum{}
		}
		bals := balancesByCurrency[curr]

		supply := sum(bals)
		m.SupplyByCurrency[curr] = supply
		totalSupplySum += supply

		m.FaucetVolumeByCurrency[curr] = a.faucet
		m.SinkVolumeByCurrency[curr] = a.sink
		netFlow := a.faucet - a.sink
		m.NetFlowByCurrency[curr] = netFlow

		m.TapSinkRatioByCurrency[curr] = tapSinkRatio(a.faucet, a.sink)

		prevSupply, hadPrev := o.prevSupply[curr]
		if hadPrev && prevSupply > 0 {
			m.InflationByCurrency[curr] = (supply - prevSupply) / prevSupply
		} else {
			m.InflationByCurrency[curr] = 0
		}

		if supply > 0 {
			m.VelocityByCurrency[curr] = float64(a.totalTrades) / supply
		} else {
			m.VelocityByCurrency[curr] = 0
		}

		gini, mean, median, top10, divergence := wealthStats(bals)
		m.GiniByCurrency[curr] = gini
		m.MeanBalanceByCurrency[curr] = mean
		m.MedianBalanceByCurrency[curr] = median
		m.Top10PctShareByCurrency[curr] = top10
		m.MeanMedianDivergenceByCurrency[curr] = divergence

		prices := state.MarketPrices[curr]
		m.PricesByCurrency[curr] = prices
		priceIndex, volatility, arbitrage := priceStats(prices, o.prevPrices[curr])
		m.PriceIndexByCurrency[curr] = priceIndex
		m.PriceVolatilityByCurrency[curr] = volatility
		m.ArbitrageIndexByCurrency[curr] = arbitrage

		if a.totalTrades > 0 {
			m.GiftTradeRatioByCurrency[curr] = float64(a.giftTrades) / float64(a.totalTrades)
			m.DisposalTradeRatioByCurrency[curr] = float64(a.disposals) / float64(a.totalTrades)
		}

		if totalAgents > 0 {
			currencyPerAgent := supply / float64(totalAgents)
			base, seen := o.baseline[curr]
			if !seen && supply > 0 {
				o.baseline[curr] = currencyPerAgent
				base = currencyPerAgent
			}
			if base > 0 {
				m.AnchorDriftByCurrency[curr] = (currencyPerAgent - base) / base
			}
		}

		o.prevSupply[curr] = supply
		o.prevPrices[curr] = prices
	}

	if poolSizes := state.PoolSizes; poolSizes != nil {
		m.PoolSizesByCurrency = poolSizes
	}

	n := len(state.Currencies)
	m.TotalSupply = totalSupplySum
	if totalAgents > 0 {
		m.MeanBalance = totalSupplySum / float64(totalAgents)
	}
	m.AvgNetFlow = meanOf(m.NetFlowByCurrency, n)
	m.AvgVelocity = meanOf(m.VelocityByCurrency, n)
	m.AvgInflation = meanOf(m.InflationByCurrency, n)
	m.GiniCoefficient = meanOf(m.GiniByCurrency, n)
	m.Top10PctShare = meanOf(m.Top10PctShareByCurrency, n)
	m.AvgTapSinkRatio = meanOf(m.TapSinkRatioByCurrency, n)
	m.AvgPriceIndex = meanOf(m.PriceIndexByCurrency, n)
	m.AvgArbitrageIndex = meanOf(m.ArbitrageIndexByCurrency, n)

	for agent, role := range state.AgentRoles {
		_ = agent
		m.PopulationByRole[role]++
	}
	for role, count := range m.PopulationByRole {
		m.RoleShares[role] = float64(count) / float64(max64(1, totalAgents))
	}
	m.ChurnRate = float64(churnCount) / float64(max64(1, totalAgents))

	for res, supply := range resourceSupply(state) {
		m.ResourceSupply[res] = supply
	}
	for res, demand := range resourceDemand(events) {
		m.ResourceDemand[res] = demand
	}
	for res, supply := range m.ResourceSupply {
		demand := m.ResourceDemand[res]
		m.PinchPoints[res] = classifyPinch(supply, demand)
	}

	if sats := state.AgentSatisfaction; len(sats) > 0 {
		var s float64
		for _, v := range sats {
			s += v
		}
		m.AvgSatisfaction = s / float64(len(sats))
		for _, v := range sats {
			if v < 20 {
				m.BlockedCount++
			}
		}
	}

	for name, fn := range o.custom {
		v, cerr := safeInvoke(fn, state)
		if cerr != nil {
			o.logger.Warn("custom metric failed", zap.String("metric", name), zap.Error(cerr))
			m.Custom[name] = math.NaN()
			continue
		}
		m.Custom[name] = v
	}

	return m, nil
}

func safeInvoke(fn CustomMetric, state *types.EconomyState) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errCustomMetricPanic
		}
	}()
	return fn(state)
}

func isDisposal(state *types.EconomyState, ev types.EconomicEvent) bool {
	if ev.From == "" || ev.Resource == "" {
		return false
	}
	inv, ok := state.AgentInventories[ev.From]
	if !ok {
		return false
	}
	held := inv[ev.Resource]
	var total float64
	count := 0
	for _, other := range state.AgentInventories {
		total += other[ev.Resource]
		count++
	}
	if count == 0 {
		return false
	}
	mean := total / float64(count)
	return mean > 0 && held > 3*mean
}

func tapSinkRatio(faucet, sink float64) float64 {
	if sink > 0 {
		return math.Min(faucet/sink, 100)
	}
	if faucet > 0 {
		return 100
	}
	return 1
}

func wealthStats(balances []float64) (gini, mean, median, top10 float64, divergence float64) {
	n := len(balances)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}
	sorted := append([]float64(nil), balances...)
	sort.Float64s(sorted)

	var total float64
	for _, b := range sorted {
		total += b
	}
	mean = total / float64(n)

	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}

	var weightedSum float64
	for i, b := range sorted {
		weightedSum += float64(i+1) * b
	}
	if total > 0 {
		gini = (2*weightedSum)/(float64(n)*total) - float64(n+1)/float64(n)
	}
	gini = math.Abs(gini)
	if gini > 1 {
		gini = 1
	}
	if gini < 0 {
		gini = 0
	}

	startIdx := int(math.Floor(0.9 * float64(n)))
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx > n {
		startIdx = n
	}
	var topSum float64
	for _, b := range sorted[startIdx:] {
		topSum += b
	}
	if total > 0 {
		top10 = topSum / total
	}

	if median > 0 {
		divergence = math.Abs(mean-median) / median
	}
	return gini, mean, median, top10, divergence
}

func priceStats(prices, prev map[string]float64) (index float64, volatility map[string]float64, arbitrage float64) {
	volatility = map[string]float64{}
	if len(prices) == 0 {
		return 0, volatility, 0
	}
	var sumPrices float64
	var logs []float64
	for res, p := range prices {
		sumPrices += p
		if prevP, ok := prev[res]; ok && prevP > 0 {
			volatility[res] = math.Abs(p-prevP) / prevP
		} else {
			volatility[res] = 0
		}
		if p > 0 {
			logs = append(logs, math.Log(p))
		}
	}
	index = sumPrices / float64(len(prices))

	if len(logs) < 2 {
		return index, volatility, 0
	}
	var mean float64
	for _, l := range logs {
		mean += l
	}
	mean /= float64(len(logs))
	var variance float64
	for _, l := range logs {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(logs))
	stddev := math.Sqrt(variance)
	if stddev > 1 {
		stddev = 1
	}
	if stddev < 0 {
		stddev = 0
	}
	return index, volatility, stddev
}

func resourceSupply(state *types.EconomyState) map[string]float64 {
	out := map[string]float64{}
	for _, inv := range state.AgentInventories {
		for res, amount := range inv {
			out[res] += amount
		}
	}
	return out
}

func resourceDemand(events []types.EconomicEvent) map[string]float64 {
	out := map[string]float64{}
	for _, ev := range events {
		if ev.Kind == types.EventConsume || ev.Kind == types.EventTrade {
			if ev.Resource != "" {
				out[ev.Resource] += ev.Amount
			}
		}
	}
	return out
}

func classifyPinch(supply, demand float64) types.PinchClass {
	if demand <= 0 {
		return types.PinchOptimal
	}
	ratio := supply / demand
	switch {
	case ratio < 0.5:
		return types.PinchScarce
	case ratio > 3:
		return types.PinchOversupply
	default:
		return types.PinchOptimal
	}
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}

func meanOf(m map[string]float64, n int) float64 {
	if n == 0 {
		return 0
	}
	var s float64
	for _, v := range m {
		s += v
	}
	return s / float64(n)
}

func max64(a, b int) int {
	if a > b {
		return a
	}
	return b
}
