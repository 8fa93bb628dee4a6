// Package types provides shared type definitions for the economy regulator.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind tags the variant of an EconomicEvent.
type EventKind string

const (
	EventMint       EventKind = "mint"
	EventBurn       EventKind = "burn"
	EventTransfer   EventKind = "transfer"
	EventTrade      EventKind = "trade"
	EventProduce    EventKind = "produce"
	EventConsume    EventKind = "consume"
	EventRoleChange EventKind = "role_change"
	EventEnter      EventKind = "enter"
	EventChurn      EventKind = "churn"
)

// MaxEventMetadataKeys bounds the metadata map on an EconomicEvent.
const MaxEventMetadataKeys = 50

// EconomicEvent is a single tagged occurrence in the host economy.
type EconomicEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Role      string         `json:"role,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Currency  string         `json:"currency,omitempty"`
	Amount    float64        `json:"amount"`
	Price     float64        `json:"price,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	System    string         `json:"system,omitempty"`
	Source    string         `json:"source,omitempty"`
	Sink      string         `json:"sink,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EconomyState is the per-tick snapshot supplied by the host.
type EconomyState struct {
	Tick               int64                          `json:"tick"`
	Roles              []string                       `json:"roles"`
	Resources          []string                       `json:"resources"`
	Currencies         []string                       `json:"currencies"`
	AgentBalances      map[string]map[string]float64  `json:"agentBalances"`
	AgentRoles         map[string]string               `json:"agentRoles"`
	AgentInventories   map[string]map[string]float64  `json:"agentInventories"`
	AgentSatisfaction  map[string]float64              `json:"agentSatisfaction,omitempty"`
	MarketPrices       map[string]map[string]float64  `json:"marketPrices"`
	RecentTransactions []EconomicEvent                 `json:"recentTransactions"`
	PoolSizes          map[string]map[string]float64  `json:"poolSizes,omitempty"`
	Systems            []string                        `json:"systems,omitempty"`
	Sources            []string                        `json:"sources,omitempty"`
	Sinks              []string                        `json:"sinks,omitempty"`
}

// DefaultCurrency returns the currency an event should be attributed to
// when it does not name one explicitly.
func (s *EconomyState) DefaultCurrency() string {
	if len(s.Currencies) == 0 {
		return ""
	}
	return s.Currencies[0]
}

// PinchClass classifies a resource's scarcity state.
type PinchClass string

const (
	PinchScarce     PinchClass = "scarce"
	PinchOversupply PinchClass = "oversupplied"
	PinchOptimal    PinchClass = "optimal"
)

// EconomyMetrics is the dense output of the Observer for a single tick.
type EconomyMetrics struct {
	Tick int64 `json:"tick"`

	// Per-currency maps.
	SupplyByCurrency              map[string]float64             `json:"supplyByCurrency"`
	NetFlowByCurrency             map[string]float64             `json:"netFlowByCurrency"`
	VelocityByCurrency            map[string]float64             `json:"velocityByCurrency"`
	InflationByCurrency           map[string]float64             `json:"inflationByCurrency"`
	FaucetVolumeByCurrency        map[string]float64             `json:"faucetVolumeByCurrency"`
	SinkVolumeByCurrency          map[string]float64             `json:"sinkVolumeByCurrency"`
	TapSinkRatioByCurrency        map[string]float64             `json:"tapSinkRatioByCurrency"`
	AnchorDriftByCurrency         map[string]float64             `json:"anchorDriftByCurrency"`
	GiniByCurrency                map[string]float64             `json:"giniByCurrency"`
	MeanBalanceByCurrency         map[string]float64             `json:"meanBalanceByCurrency"`
	MedianBalanceByCurrency       map[string]float64             `json:"medianBalanceByCurrency"`
	Top10PctShareByCurrency       map[string]float64             `json:"top10PctShareByCurrency"`
	MeanMedianDivergenceByCurrency map[string]float64            `json:"meanMedianDivergenceByCurrency"`
	PriceIndexByCurrency          map[string]float64             `json:"priceIndexByCurrency"`
	PricesByCurrency              map[string]map[string]float64  `json:"pricesByCurrency"`
	PriceVolatilityByCurrency     map[string]map[string]float64  `json:"priceVolatilityByCurrency"`
	ArbitrageIndexByCurrency      map[string]float64             `json:"arbitrageIndexByCurrency"`
	GiftTradeRatioByCurrency      map[string]float64             `json:"giftTradeRatioByCurrency"`
	DisposalTradeRatioByCurrency  map[string]float64             `json:"disposalTradeRatioByCurrency"`
	PoolSizesByCurrency           map[string]map[string]float64  `json:"poolSizesByCurrency,omitempty"`

	// Scalar aggregates (arithmetic means across currency maps, except totalSupply which sums).
	TotalSupply       float64 `json:"totalSupply"`
	MeanBalance       float64 `json:"meanBalance"`
	AvgNetFlow        float64 `json:"avgNetFlow"`
	AvgVelocity       float64 `json:"avgVelocity"`
	AvgInflation      float64 `json:"avgInflation"`
	GiniCoefficient   float64 `json:"giniCoefficient"`
	Top10PctShare     float64 `json:"top10PctShare"`
	AvgTapSinkRatio   float64 `json:"avgTapSinkRatio"`
	AvgPriceIndex     float64 `json:"avgPriceIndex"`
	AvgArbitrageIndex float64 `json:"avgArbitrageIndex"`

	// Population.
	TotalAgents      int                `json:"totalAgents"`
	PopulationByRole map[string]int     `json:"populationByRole"`
	RoleShares       map[string]float64 `json:"roleShares"`
	ChurnRate        float64            `json:"churnRate"`
	ChurnByRole      map[string]int     `json:"churnByRole"`

	// Persona distribution (attached by the Controller after Observer.Compute).
	PersonaDistribution map[string]float64 `json:"personaDistribution,omitempty"`

	// Market scalars.
	ProductionIndex float64 `json:"productionIndex"`
	CapacityUsage   float64 `json:"capacityUsage"`

	// Resource supply/demand/pinch point.
	ResourceSupply map[string]float64    `json:"resourceSupply"`
	ResourceDemand map[string]float64    `json:"resourceDemand"`
	PinchPoints    map[string]PinchClass `json:"pinchPoints"`

	// Satisfaction.
	AvgSatisfaction float64 `json:"avgSatisfaction"`
	BlockedCount    int     `json:"blockedCount"`

	// Per-system / per-source / per-sink.
	FlowBySystem         map[string]float64 `json:"flowBySystem"`
	ActivityBySystem     map[string]int     `json:"activityBySystem"`
	ParticipantsBySystem map[string]int     `json:"participantsBySystem"`
	FlowBySource         map[string]float64 `json:"flowBySource"`
	FlowBySink           map[string]float64 `json:"flowBySink"`
	SourceShare          map[string]float64 `json:"sourceShare"`
	SinkShare            map[string]float64 `json:"sinkShare"`

	// Open-question placeholders, kept at 0 per spec §9 until a principle
	// needs them populated.
	SmokeTestRatio      float64 `json:"smokeTestRatio"`
	ExtractionRatio     float64 `json:"extractionRatio"`
	NewUserDependency   float64 `json:"newUserDependency"`
	EventCompletionRate float64 `json:"eventCompletionRate"`
	CurrencyInsulation  float64 `json:"currencyInsulation"`
	ContentDropAge      int64   `json:"contentDropAge"`

	// Custom developer metrics.
	Custom map[string]float64 `json:"custom,omitempty"`
}

// Get resolves a dotted key path against the metrics (e.g.
// "avgSatisfaction" or "giniByCurrency.gold"). Returns (value, ok); ok is
// false when the path does not resolve to a numeric (float or integer)
// field.
func (m *EconomyMetrics) Get(path string) (float64, bool) {
	return getMetricPath(m, path)
}

// SuggestedDirection is the abstract direction of a SuggestedAction.
type SuggestedDirection string

const (
	DirectionIncrease SuggestedDirection = "increase"
	DirectionDecrease SuggestedDirection = "decrease"
	DirectionSet      SuggestedDirection = "set"
)

// ParameterScope narrows which host knob a SuggestedAction addresses.
type ParameterScope struct {
	System   string   `json:"system,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// SuggestedAction is the abstract corrective action a Principle proposes.
type SuggestedAction struct {
	ParameterType string             `json:"parameterType"`
	Direction     SuggestedDirection `json:"direction"`
	Magnitude     *float64           `json:"magnitude,omitempty"`
	AbsoluteValue *float64           `json:"absoluteValue,omitempty"`
	Scope         *ParameterScope    `json:"scope,omitempty"`
	Reasoning     string             `json:"reasoning"`
}

// FlowImpact classifies a parameter's static effect on net flow.
type FlowImpact string

const (
	FlowFaucet  FlowImpact = "faucet"
	FlowSink    FlowImpact = "sink"
	FlowNeutral FlowImpact = "neutral"
	FlowMixed   FlowImpact = "mixed"
)

// ParameterConstraint bounds a registered parameter's legal value range.
type ParameterConstraint struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// RegisteredParameter is a concrete host knob known to the ParameterRegistry.
type RegisteredParameter struct {
	Key          string               `json:"key"`
	Type         string               `json:"type"`
	FlowImpact   FlowImpact           `json:"flowImpact"`
	Scope        *ParameterScope      `json:"scope,omitempty"`
	CurrentValue *decimal.Decimal     `json:"currentValue,omitempty"`
	Description  string               `json:"description,omitempty"`
	Constraint   *ParameterConstraint `json:"constraint,omitempty"`
}

// RollbackCondition describes when an applied ActionPlan must be reverted.
type RollbackCondition struct {
	Metric         string  `json:"metric"`
	Direction      string  `json:"direction"` // "above" | "below"
	Threshold      float64 `json:"threshold"`
	CheckAfterTick int64   `json:"checkAfterTick"`
}

// ActionPlan is a concrete, ready-to-apply corrective action.
type ActionPlan struct {
	ID                string             `json:"id"`
	Diagnosis         PrincipleViolation `json:"diagnosis"`
	Parameter         string             `json:"parameter"`
	Scope             *ParameterScope    `json:"scope,omitempty"`
	CurrentValue      decimal.Decimal    `json:"currentValue"`
	TargetValue       decimal.Decimal    `json:"targetValue"`
	MaxChangePercent  float64            `json:"maxChangePercent"`
	CooldownTicks     int64              `json:"cooldownTicks"`
	RollbackCondition RollbackCondition  `json:"rollbackCondition"`
	SimulationResult  SimulationResult   `json:"simulationResult"`
	EstimatedLag      int64              `json:"estimatedLag"`
	AppliedAt         *int64             `json:"appliedAt,omitempty"`
}

// PrincipleResult is the outcome of a single Principle.Check call.
type PrincipleResult struct {
	Violated        bool             `json:"violated"`
	Severity        float64          `json:"severity,omitempty"`
	Evidence        map[string]any   `json:"evidence,omitempty"`
	SuggestedAction *SuggestedAction `json:"suggestedAction,omitempty"`
	Confidence      float64          `json:"confidence,omitempty"`
	EstimatedLag    int64            `json:"estimatedLag,omitempty"`
}

// PrincipleViolation pairs a violated PrincipleResult with the identity of
// the principle that produced it, and the tick it was diagnosed on.
type PrincipleViolation struct {
	PrincipleID   string          `json:"principleId"`
	PrincipleName string          `json:"principleName"`
	Category      string          `json:"category"`
	Tick          int64           `json:"tick"`
	Result        PrincipleResult `json:"result"`
}

// DecisionResult enumerates the terminal states of a DecisionEntry.
type DecisionResult string

const (
	ResultApplied                 DecisionResult = "applied"
	ResultSkippedCooldown         DecisionResult = "skipped_cooldown"
	ResultSkippedSimulationFailed DecisionResult = "skipped_simulation_failed"
	ResultSkippedLocked           DecisionResult = "skipped_locked"
	ResultSkippedOverride         DecisionResult = "skipped_override"
	ResultRolledBack              DecisionResult = "rolled_back"
	ResultRejected                DecisionResult = "rejected"
)

// DecisionEntry is a single append-only record in the DecisionLog.
type DecisionEntry struct {
	ID              string             `json:"id"`
	Tick            int64              `json:"tick"`
	Timestamp       time.Time          `json:"timestamp"`
	Diagnosis       PrincipleViolation `json:"diagnosis"`
	Plan            *ActionPlan        `json:"plan,omitempty"`
	Result          DecisionResult     `json:"result"`
	Reasoning       string             `json:"reasoning"`
	MetricsSnapshot EconomyMetrics     `json:"metricsSnapshot"`
}

// SimulationResult is the output of the Monte-Carlo Simulator for a single
// candidate action.
type SimulationResult struct {
	Iterations           int                `json:"iterations"`
	ForwardTicks         int                `json:"forwardTicks"`
	P10Satisfaction      float64            `json:"p10Satisfaction"`
	P50Satisfaction      float64            `json:"p50Satisfaction"`
	MeanSatisfaction     float64            `json:"meanSatisfaction"`
	ConfidenceInterval   [2]float64         `json:"confidenceInterval"`
	EstimatedEffectTick  int64              `json:"estimatedEffectTick"`
	OvershootRisk        float64            `json:"overshootRisk"`
	P50NetFlowByCurrency map[string]float64 `json:"p50NetFlowByCurrency"`
	P50GiniByCurrency    map[string]float64 `json:"p50GiniByCurrency"`
	NetImprovement       bool               `json:"netImprovement"`
	NoNewProblems        bool               `json:"noNewProblems"`
}
