// Package registry implements the ParameterRegistry: the scope-aware map of
// host knobs the Planner resolves SuggestedActions against, per spec §4.6.
package registry

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/econregulator/regulator/pkg/types"
)

// Registry is an in-memory, scope-aware table of RegisteredParameters.
type Registry struct {
	mu     sync.RWMutex
	params map[string]types.RegisteredParameter
}

// New creates an empty ParameterRegistry.
func New() *Registry {
	return &Registry{params: make(map[string]types.RegisteredParameter)}
}

// Register shallow-copies p into the registry, keyed by p.Key. External
// mutation of the caller's copy cannot affect the stored value. Registering
// the same key twice overwrites the earlier entry.
func (r *Registry) Register(p types.RegisteredParameter) {
	cp := p
	if p.Scope != nil {
		scopeCopy := *p.Scope
		scopeCopy.Tags = append([]string(nil), p.Scope.Tags...)
		cp.Scope = &scopeCopy
	}
	if p.CurrentValue != nil {
		v := *p.CurrentValue
		cp.CurrentValue = &v
	}
	if p.Constraint != nil {
		c := *p.Constraint
		cp.Constraint = &c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[p.Key] = cp
}

// Get returns the registered parameter for key, if any.
func (r *Registry) Get(key string) (types.RegisteredParameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[key]
	return p, ok
}

// FindByType returns all registered parameters of the given type, in
// unspecified but stable-per-call order.
func (r *Registry) FindByType(paramType string) []types.RegisteredParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.RegisteredParameter
	for _, p := range r.params {
		if p.Type == paramType {
			out = append(out, p)
		}
	}
	return out
}

// FindBySystem returns all registered parameters scoped to the given
// system.
func (r *Registry) FindBySystem(system string) []types.RegisteredParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.RegisteredParameter
	for _, p := range r.params {
		if p.Scope != nil && p.Scope.System == system {
			out = append(out, p)
		}
	}
	return out
}

// GetAll returns every registered parameter.
func (r *Registry) GetAll() []types.RegisteredParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.RegisteredParameter, 0, len(r.params))
	for _, p := range r.params {
		out = append(out, p)
	}
	return out
}

// UpdateValue sets the current value of a registered parameter. A no-op if
// key is absent.
func (r *Registry) UpdateValue(key string, value decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.params[key]
	if !ok {
		return
	}
	p.CurrentValue = &value
	r.params[key] = p
}

// SetConstraint overwrites the constraint bounds of a registered parameter.
// A no-op if key is absent.
func (r *Registry) SetConstraint(key string, c *types.ParameterConstraint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.params[key]
	if !ok {
		return
	}
	p.Constraint = c
	r.params[key] = p
}

// GetFlowImpact returns the flow impact classification for a key, or
// FlowNeutral if the key is unregistered.
func (r *Registry) GetFlowImpact(key string) types.FlowImpact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[key]
	if !ok {
		return types.FlowNeutral
	}
	return p.FlowImpact
}

// Size returns the number of distinct registered keys.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.params)
}

// scoreCandidate implements the scoring table from spec §4.4.
func scoreCandidate(candidate types.RegisteredParameter, query types.ParameterScope) int {
	score := 0
	cs := candidate.Scope

	switch {
	case cs != nil && cs.System != "" && query.System != "" && cs.System == query.System:
		score += 10
	case cs != nil && cs.System != "" && query.System != "" && cs.System != query.System:
		score -= 1
	}

	switch {
	case cs != nil && cs.Currency != "" && query.Currency != "" && cs.Currency == query.Currency:
		score += 5
	case cs != nil && cs.Currency != "" && query.Currency != "" && cs.Currency != query.Currency:
		score -= 1
	}

	if cs != nil && len(cs.Tags) > 0 && len(query.Tags) > 0 {
		overlap := 0
		for _, t := range cs.Tags {
			for _, qt := range query.Tags {
				if t == qt {
					overlap++
				}
			}
		}
		if overlap > 0 {
			score += 3 * overlap
		} else {
			score -= 1
		}
	}

	return score
}

// Resolve implements the Planner's resolution rule from spec §4.4: zero
// candidates -> nil; one candidate -> that candidate regardless of scope;
// multiple candidates -> highest strictly-improving score above the -1
// floor, first candidate to achieve it wins ties.
func (r *Registry) Resolve(paramType string, scope types.ParameterScope) *types.RegisteredParameter {
	candidates := r.FindByType(paramType)
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		c := candidates[0]
		return &c
	}

	bestScore := -1
	var best *types.RegisteredParameter
	for i := range candidates {
		s := scoreCandidate(candidates[i], scope)
		if s > bestScore {
			bestScore = s
			c := candidates[i]
			best = &c
		}
	}
	if best == nil {
		return nil
	}
	return best
}
