// Package controller drives the five-stage observation-to-action pipeline
// once per tick and owns the event buffer, event bus, and lifecycle flags.
package controller

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/decisionlog"
	"github.com/econregulator/regulator/internal/executor"
	"github.com/econregulator/regulator/internal/metricstore"
	"github.com/econregulator/regulator/internal/observer"
	"github.com/econregulator/regulator/internal/persona"
	"github.com/econregulator/regulator/internal/planner"
	"github.com/econregulator/regulator/internal/principles"
	"github.com/econregulator/regulator/internal/regerrors"
	"github.com/econregulator/regulator/internal/registry"
	"github.com/econregulator/regulator/internal/satisfaction"
	"github.com/econregulator/regulator/internal/simulator"
	"github.com/econregulator/regulator/pkg/adapter"
	"github.com/econregulator/regulator/pkg/types"
)

const maxEventBufferSize = 10000

// TickOutcome is the result of a single Controller.Tick call, the shape
// the transport layer reports back to callers.
type TickOutcome struct {
	Adjustments []types.ActionPlan `json:"adjustments"`
	Alerts      []types.PrincipleViolation `json:"alerts"`
	Health      float64            `json:"health"`
	Tick        int64              `json:"tick"`
	Skipped     bool               `json:"skipped,omitempty"`
	SkipReason  string             `json:"skipReason,omitempty"`
}

// Controller owns the pipeline components, the event handler map, the
// buffered event queue, and lifecycle flags.
type Controller struct {
	logger *zap.Logger

	config types.PipelineConfig
	host   adapter.HostAdapter

	registry    *registry.Registry
	obs         *observer.Observer
	diag        *principles.Diagnoser
	sim         *simulator.Simulator
	plan        *planner.Planner
	exec        *executor.Executor
	metrics     *metricstore.Store
	decisions   *decisionlog.Log
	satEst      *satisfaction.Estimator
	personas    *persona.Tracker
	bus         *EventBus

	mu          sync.Mutex
	eventBuffer []types.EconomicEvent

	isRunning   bool
	isPaused    bool
	currentTick int64

	currentParams map[string]float64
}

// Deps bundles the Controller's pipeline component dependencies.
type Deps struct {
	Registry  *registry.Registry
	Observer  *observer.Observer
	Diagnoser *principles.Diagnoser
	Simulator *simulator.Simulator
	Planner   *planner.Planner
	Executor  *executor.Executor
	Metrics   *metricstore.Store
	Decisions *decisionlog.Log
	SatEst    *satisfaction.Estimator
	Personas  *persona.Tracker
}

// New creates a Controller wired to the given host adapter and pipeline
// components. A host that implements adapter.EventSource has Ingest
// registered as its push handler.
func New(logger *zap.Logger, cfg types.PipelineConfig, host adapter.HostAdapter, deps Deps) *Controller {
	c := &Controller{
		logger:        logger.Named("controller"),
		config:        cfg,
		host:          host,
		registry:      deps.Registry,
		obs:           deps.Observer,
		diag:          deps.Diagnoser,
		sim:           deps.Simulator,
		plan:          deps.Planner,
		exec:          deps.Executor,
		metrics:       deps.Metrics,
		decisions:     deps.Decisions,
		satEst:        deps.SatEst,
		personas:      deps.Personas,
		bus:           NewEventBus(logger),
		currentParams: make(map[string]float64),
		isRunning:     true,
	}
	if es, ok := host.(adapter.EventSource); ok {
		es.OnEvent(c.Ingest)
	}
	return c
}

// On registers an event handler.
func (c *Controller) On(name EventName, h Handler) { c.bus.On(name, h) }

// Start/Pause/Resume toggle the lifecycle flags tick() consults.
func (c *Controller) Start()  { c.mu.Lock(); c.isRunning = true; c.mu.Unlock() }
func (c *Controller) Stop()   { c.mu.Lock(); c.isRunning = false; c.mu.Unlock() }
func (c *Controller) Pause()  { c.mu.Lock(); c.isPaused = true; c.mu.Unlock() }
func (c *Controller) Resume() { c.mu.Lock(); c.isPaused = false; c.mu.Unlock() }

// CurrentTick returns the tick most recently processed.
func (c *Controller) CurrentTick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTick
}

// ActivePlanCount exposes the Planner's live complexity-budget usage.
func (c *Controller) ActivePlanCount() int { return c.plan.ActivePlanCount() }

// Ingest enqueues an event for processing on the next tick. Events with
// more than MaxEventMetadataKeys metadata entries are dropped; the buffer
// evicts the oldest entry (FIFO) once it exceeds maxEventBufferSize.
func (c *Controller) Ingest(ev types.EconomicEvent) {
	if len(ev.Metadata) > types.MaxEventMetadataKeys {
		c.logger.Warn("dropping event with oversized metadata", zap.Int("keys", len(ev.Metadata)))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventBuffer = append(c.eventBuffer, ev)
	if len(c.eventBuffer) > maxEventBufferSize {
		c.eventBuffer = c.eventBuffer[len(c.eventBuffer)-maxEventBufferSize:]
	}
}

// drain atomically swaps the event buffer for a fresh empty one, so there
// is no window where a concurrently enqueued event can be lost.
func (c *Controller) drain() []types.EconomicEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.eventBuffer
	c.eventBuffer = nil
	return drained
}

// Tick runs one pass of the pipeline. If state is nil it is fetched from
// the host adapter.
func (c *Controller) Tick(ctx context.Context, state *types.EconomyState) (TickOutcome, error) {
	c.mu.Lock()
	running, paused := c.isRunning, c.isPaused
	c.mu.Unlock()
	if !running || paused {
		return TickOutcome{Skipped: true, SkipReason: "not_running"}, nil
	}

	if state == nil {
		fetched, err := c.host.GetState(ctx)
		if err != nil {
			return TickOutcome{}, err
		}
		state = fetched
	}

	c.mu.Lock()
	c.currentTick = state.Tick
	c.mu.Unlock()

	events := c.drain()

	sat := c.satEst.Update(state)
	personaDist := c.personas.Update(state, sat)
	if len(state.AgentSatisfaction) == 0 {
		state.AgentSatisfaction = sat
	}

	metrics, err := c.obs.Compute(state, events)
	if err != nil {
		c.logger.Warn("observer failed, skipping tick", zap.Error(err))
		return TickOutcome{Skipped: true, SkipReason: "observer_failed", Tick: state.Tick}, nil
	}
	metrics.PersonaDistribution = personaDist

	c.metrics.Record(metrics)

	rolledBack, _ := c.exec.CheckRollbacks(ctx, metrics, c.host, c.config.SettlementWindowTicks, c.plan)
	for _, plan := range rolledBack {
		c.bus.Emit(EventRollback, plan)
	}

	health := c.HealthScore(metrics)

	if metrics.Tick < c.config.GracePeriod {
		return TickOutcome{Health: health, Tick: metrics.Tick}, nil
	}
	if c.config.CheckInterval > 0 && metrics.Tick%c.config.CheckInterval != 0 {
		return TickOutcome{Health: health, Tick: metrics.Tick}, nil
	}

	violations := c.diag.Diagnose(metrics, c.config.Thresholds)
	for _, v := range violations {
		c.bus.Emit(EventAlert, v)
	}

	if len(violations) == 0 {
		return TickOutcome{Health: health, Tick: metrics.Tick, Alerts: violations}, nil
	}

	top := violations[0]
	iterations := c.config.SimulationMinIterations
	if iterations < 100 {
		iterations = 100
	}

	var diagnoseFn simulator.DiagnoseFunc = func(m *types.EconomyMetrics, t types.Thresholds) []types.PrincipleViolation {
		return c.diag.Diagnose(m, t)
	}

	var simResult types.SimulationResult
	if top.Result.SuggestedAction != nil {
		simResult = c.sim.Simulate(*top.Result.SuggestedAction, metrics, c.config.Thresholds, iterations, 20, metrics.Tick, metrics.TotalAgents, diagnoseFn)
	}

	plan := c.plan.Plan(top, metrics, simResult, c.currentParams, c.config.Thresholds, c.registry, metrics.Tick, c.config.ComplexityBudgetMax, c.config.CooldownTicks)
	if plan == nil {
		reason := c.plan.LastSkipReason()
		c.decisions.Append(types.DecisionEntry{
			Tick:            metrics.Tick,
			Diagnosis:       top,
			Result:          reason.DecisionResult(),
			Reasoning:       "planner declined: " + string(reason),
			MetricsSnapshot: *metrics,
		})
		return TickOutcome{Health: health, Tick: metrics.Tick, Alerts: violations, Skipped: true, SkipReason: string(reason)}, nil
	}

	if c.config.Mode == types.ModeAdvisor {
		entry := c.decisions.Append(types.DecisionEntry{
			Tick:            metrics.Tick,
			Diagnosis:       top,
			Plan:            plan,
			Result:          types.ResultSkippedOverride,
			Reasoning:       "advisor mode: recommendation only",
			MetricsSnapshot: *metrics,
		})
		c.bus.Emit(EventDecision, entry)
		return TickOutcome{Health: health, Tick: metrics.Tick, Alerts: violations}, nil
	}

	if veto := c.bus.Emit(EventBeforeAction, plan); veto == Veto {
		c.decisions.Append(types.DecisionEntry{
			Tick:            metrics.Tick,
			Diagnosis:       top,
			Plan:            plan,
			Result:          types.ResultSkippedOverride,
			Reasoning:       "vetoed by beforeAction handler",
			MetricsSnapshot: *metrics,
		})
		return TickOutcome{Health: health, Tick: metrics.Tick, Alerts: violations}, nil
	}

	if err := c.exec.Apply(ctx, plan, c.host, metrics.Tick); err != nil {
		c.logger.Error("executor apply failed", zap.Error(err))
		return TickOutcome{}, err
	}
	target, _ := plan.TargetValue.Float64()
	c.currentParams[plan.Parameter] = target
	c.registry.UpdateValue(plan.Parameter, plan.TargetValue)
	c.plan.RecordApplied(plan, c.config.CooldownTicks, metrics.Tick)

	entry := c.decisions.Append(types.DecisionEntry{
		Tick:            metrics.Tick,
		Diagnosis:       top,
		Plan:            plan,
		Result:          types.ResultApplied,
		Reasoning:       plan.Diagnosis.Result.SuggestedAction.Reasoning,
		MetricsSnapshot: *metrics,
	})
	c.bus.Emit(EventDecision, entry)
	c.bus.Emit(EventAfterAction, plan)

	return TickOutcome{
		Adjustments: []types.ActionPlan{*plan},
		Alerts:      violations,
		Health:      health,
		Tick:        metrics.Tick,
	}, nil
}

// HealthScore computes the 0..100 monotonically-decreasing health score.
func (c *Controller) HealthScore(m *types.EconomyMetrics) float64 {
	if m.Tick == 0 {
		return 100
	}

	score := 100.0
	if m.AvgSatisfaction < 65 {
		score -= 15
		if m.AvgSatisfaction < 50 {
			score -= 10
		}
	}
	if m.GiniCoefficient > 0.45 {
		score -= 15
		if m.GiniCoefficient > 0.60 {
			score -= 10
		}
	}
	if math.Abs(m.AvgNetFlow) > 10 {
		score -= 15
		if math.Abs(m.AvgNetFlow) > 20 {
			score -= 10
		}
	}
	if m.ChurnRate > 0.05 {
		score -= 15
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ApproveDecision applies the plan attached to a pending (advisor-mode)
// decision log entry. Returns an error if the entry doesn't exist, has no
// attached plan, or isn't in a pending state.
func (c *Controller) ApproveDecision(ctx context.Context, decisionID string) error {
	entry, ok := c.decisions.Get(decisionID)
	if !ok {
		return regerrors.ErrDecisionNotFound
	}
	if entry.Result != types.ResultSkippedOverride || entry.Plan == nil {
		return regerrors.ErrDecisionNotPending
	}

	plan := entry.Plan
	if err := c.exec.Apply(ctx, plan, c.host, entry.Tick); err != nil {
		return err
	}

	target, _ := plan.TargetValue.Float64()
	c.mu.Lock()
	c.currentParams[plan.Parameter] = target
	c.mu.Unlock()
	c.registry.UpdateValue(plan.Parameter, plan.TargetValue)
	c.plan.RecordApplied(plan, c.config.CooldownTicks, entry.Tick)

	c.decisions.SetResult(decisionID, types.ResultApplied, "approved by operator")
	c.bus.Emit(EventAfterAction, plan)
	return nil
}

// RejectDecision marks a pending decision as rejected without applying it.
func (c *Controller) RejectDecision(decisionID string) error {
	entry, ok := c.decisions.Get(decisionID)
	if !ok {
		return regerrors.ErrDecisionNotFound
	}
	if entry.Result != types.ResultSkippedOverride {
		return regerrors.ErrDecisionNotPending
	}
	c.decisions.SetResult(decisionID, types.ResultRejected, "rejected by operator")
	return nil
}

// Diagnose runs the observer and diagnoser side-effect-free, for the
// /diagnose transport endpoint.
func (c *Controller) Diagnose(state *types.EconomyState) (float64, []types.PrincipleViolation, error) {
	metrics, err := c.obs.Compute(state, state.RecentTransactions)
	if err != nil {
		return 0, nil, err
	}
	violations := c.diag.Diagnose(metrics, c.config.Thresholds)
	return c.HealthScore(metrics), violations, nil
}
