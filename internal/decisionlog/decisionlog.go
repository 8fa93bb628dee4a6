// Package decisionlog keeps a bounded, append-only audit trail of the
// Controller's per-tick decisions.
package decisionlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/econregulator/regulator/pkg/types"
)

const defaultMaxEntries = 1000

// Filter narrows a Query call.
type Filter struct {
	Since       time.Time
	Until       time.Time
	Result      types.DecisionResult
	Parameter   string
	PrincipleID string
}

// Log is a chronological, bounded DecisionLog.
type Log struct {
	mu         sync.Mutex
	maxEntries int
	entries    []types.DecisionEntry
}

// New creates a Log with the given capacity (entries are trimmed to
// maxEntries once the log exceeds 1.5x that size).
func New(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Log{maxEntries: maxEntries}
}

// Append adds an entry, assigning it an id and timestamp if unset, and
// trims the log once it exceeds 1.5x maxEntries.
func (l *Log) Append(entry types.DecisionEntry) types.DecisionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > int(1.5*float64(l.maxEntries)) {
		start := len(l.entries) - l.maxEntries
		l.entries = append([]types.DecisionEntry(nil), l.entries[start:]...)
	}
	return entry
}

// Latest returns the newest n entries, reverse-chronological.
func (l *Log) Latest(n int) []types.DecisionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]types.DecisionEntry, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out
}

// Query returns entries matching every non-zero field of filter, in
// chronological order.
func (l *Log) Query(filter Filter) []types.DecisionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.DecisionEntry
	for _, e := range l.entries {
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		if filter.Result != "" && e.Result != filter.Result {
			continue
		}
		if filter.Parameter != "" && (e.Plan == nil || e.Plan.Parameter != filter.Parameter) {
			continue
		}
		if filter.PrincipleID != "" && e.Diagnosis.PrincipleID != filter.PrincipleID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Get returns the entry with the given id, if present.
func (l *Log) Get(id string) (types.DecisionEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.DecisionEntry{}, false
}

// SetResult overwrites the Result and Reasoning of the entry with the
// given id in place. Returns false if no such entry exists.
func (l *Log) SetResult(id string, result types.DecisionResult, reasoning string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Result = result
			l.entries[i].Reasoning = reasoning
			return true
		}
	}
	return false
}

// Size returns the current entry count.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
