// Package principles implements the Diagnoser and the pluggable Principle
// predicates it evaluates against EconomyMetrics each tick.
package principles

import (
	"sort"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/pkg/types"
)

// Principle is a uniform predicate over metrics. Implementations are kept as
// plain values satisfying this interface — no inheritance hierarchy.
type Principle interface {
	ID() string
	Name() string
	Category() string
	Description() string
	Check(metrics *types.EconomyMetrics, thresholds types.Thresholds) types.PrincipleResult
}

// Diagnoser holds an ordered registry of Principles and produces sorted
// violation lists per tick.
type Diagnoser struct {
	logger     *zap.Logger
	principles []Principle
}

// New creates an empty Diagnoser.
func New(logger *zap.Logger) *Diagnoser {
	return &Diagnoser{logger: logger.Named("diagnoser")}
}

// Add appends a principle to the end of the registry.
func (d *Diagnoser) Add(p Principle) {
	d.principles = append(d.principles, p)
}

// Remove drops the principle with the given id, if registered.
func (d *Diagnoser) Remove(id string) {
	out := d.principles[:0]
	for _, p := range d.principles {
		if p.ID() != id {
			out = append(out, p)
		}
	}
	d.principles = out
}

// All returns every registered principle, in registration order.
func (d *Diagnoser) All() []Principle {
	return append([]Principle(nil), d.principles...)
}

// Diagnose runs every registered principle's Check, containing exceptions
// per-principle, and returns the violations sorted by severity descending,
// ties broken by confidence descending, then registration order.
func (d *Diagnoser) Diagnose(metrics *types.EconomyMetrics, thresholds types.Thresholds) []types.PrincipleViolation {
	type indexed struct {
		violation types.PrincipleViolation
		order     int
	}
	var violations []indexed

	for i, p := range d.principles {
		result := d.safeCheck(p, metrics, thresholds)
		if !result.Violated {
			continue
		}
		violations = append(violations, indexed{
			violation: types.PrincipleViolation{
				PrincipleID:   p.ID(),
				PrincipleName: p.Name(),
				Category:      p.Category(),
				Tick:          metrics.Tick,
				Result:        result,
			},
			order: i,
		})
	}

	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.violation.Result.Severity != b.violation.Result.Severity {
			return a.violation.Result.Severity > b.violation.Result.Severity
		}
		if a.violation.Result.Confidence != b.violation.Result.Confidence {
			return a.violation.Result.Confidence > b.violation.Result.Confidence
		}
		return a.order < b.order
	})

	out := make([]types.PrincipleViolation, len(violations))
	for i, v := range violations {
		out[i] = v.violation
	}
	return out
}

func (d *Diagnoser) safeCheck(p Principle, metrics *types.EconomyMetrics, thresholds types.Thresholds) (result types.PrincipleResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("principle check panicked, containing as not-violated",
				zap.String("principle", p.ID()), zap.Any("recover", r))
			result = types.PrincipleResult{Violated: false}
		}
	}()
	return p.Check(metrics, thresholds)
}
