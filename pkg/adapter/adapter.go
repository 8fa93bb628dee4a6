// Package adapter defines the host integration boundary: the interface a
// game or platform backend implements so the regulator can read state and
// mutate parameters.
package adapter

import (
	"context"

	"github.com/econregulator/regulator/pkg/types"
)

// HostAdapter is the required integration surface between the regulator
// and the economy it governs.
type HostAdapter interface {
	// GetState fetches the current EconomyState. May be a remote call.
	GetState(ctx context.Context) (*types.EconomyState, error)

	// SetParam mutates a host parameter. Must be idempotent across
	// identical (key, value, scope) triples: the Executor may call it
	// twice in one tick (an apply and a rollback of a different plan).
	SetParam(ctx context.Context, key string, value float64, scope *types.ParameterScope) error
}

// EventSource is an optional capability: a host adapter that can push
// events as they occur, rather than only reporting them via GetState's
// RecentTransactions field.
type EventSource interface {
	// OnEvent registers handler to be called for every event the host
	// produces. The Controller wires handler to its ingest method.
	OnEvent(handler func(types.EconomicEvent))
}
