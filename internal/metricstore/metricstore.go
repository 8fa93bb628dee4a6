// Package metricstore holds multi-resolution ring buffers of EconomyMetrics
// snapshots, queried by dotted metric key paths.
package metricstore

import (
	"sync"

	"github.com/econregulator/regulator/pkg/types"
)

// Resolution names one of the store's three ring buffers.
type Resolution string

const (
	Fine   Resolution = "fine"
	Medium Resolution = "medium"
	Coarse Resolution = "coarse"
)

const (
	defaultFineCapacity   = 1000
	defaultMediumCapacity = 1000
	defaultCoarseCapacity = 1000
	defaultMediumWindow   = 10
	defaultCoarseWindow   = 100
)

// Point is a single (tick, value) sample returned by Query.
type Point struct {
	Tick  int64   `json:"tick"`
	Value float64 `json:"value"`
}

// QueryResult is the shape of a Query response.
type QueryResult struct {
	Metric     string     `json:"metric"`
	Resolution Resolution `json:"resolution"`
	Points     []Point    `json:"points"`
}

type ringBuffer struct {
	capacity int
	buf      []*types.EconomyMetrics
}

func newRing(capacity int) *ringBuffer {
	return &ringBuffer{capacity: capacity}
}

func (r *ringBuffer) push(m *types.EconomyMetrics) {
	r.buf = append(r.buf, m)
	if len(r.buf) > r.capacity {
		r.buf = r.buf[len(r.buf)-r.capacity:]
	}
}

func (r *ringBuffer) latest() *types.EconomyMetrics {
	if len(r.buf) == 0 {
		return nil
	}
	return r.buf[len(r.buf)-1]
}

// Store is a MetricStore: fine (every tick), medium (every mediumWindow
// ticks), and coarse (every coarseWindow ticks) ring buffers.
type Store struct {
	mu sync.RWMutex

	mediumWindow int64
	coarseWindow int64

	fine   *ringBuffer
	medium *ringBuffer
	coarse *ringBuffer
}

// Option configures a Store at construction.
type Option func(*Store)

// WithWindows overrides the medium/coarse downsample windows.
func WithWindows(mediumWindow, coarseWindow int64) Option {
	return func(s *Store) {
		s.mediumWindow = mediumWindow
		s.coarseWindow = coarseWindow
	}
}

// WithCapacities overrides the per-resolution ring buffer capacities.
func WithCapacities(fine, medium, coarse int) Option {
	return func(s *Store) {
		s.fine = newRing(fine)
		s.medium = newRing(medium)
		s.coarse = newRing(coarse)
	}
}

// New creates a Store with the spec's default windows and capacities.
func New(opts ...Option) *Store {
	s := &Store{
		mediumWindow: defaultMediumWindow,
		coarseWindow: defaultCoarseWindow,
		fine:         newRing(defaultFineCapacity),
		medium:       newRing(defaultMediumCapacity),
		coarse:       newRing(defaultCoarseCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends metrics to the fine buffer, and to medium/coarse when the
// tick falls on their downsample boundary.
func (s *Store) Record(m *types.EconomyMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fine.push(m)
	if s.mediumWindow > 0 && m.Tick%s.mediumWindow == 0 {
		s.medium.push(m)
	}
	if s.coarseWindow > 0 && m.Tick%s.coarseWindow == 0 {
		s.coarse.push(m)
	}
}

func (s *Store) ringFor(res Resolution) *ringBuffer {
	switch res {
	case Medium:
		return s.medium
	case Coarse:
		return s.coarse
	default:
		return s.fine
	}
}

// Latest returns the newest snapshot at the given resolution (default Fine
// when empty), or an empty snapshot if the store holds nothing yet.
func (s *Store) Latest(res Resolution) *types.EconomyMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.ringFor(res).latest()
	if m == nil {
		return &types.EconomyMetrics{}
	}
	return m
}

// Series returns every snapshot currently held at the given resolution, in
// chronological order.
func (s *Store) Series(res Resolution) []*types.EconomyMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.ringFor(res)
	out := make([]*types.EconomyMetrics, len(ring.buf))
	copy(out, ring.buf)
	return out
}

// Query resolves metric by dotted key path over every sample in the given
// resolution's buffer, optionally bounded to [from, to] ticks (inclusive;
// zero-value bounds mean unbounded).
func (s *Store) Query(metric string, from, to int64, res Resolution) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := QueryResult{Metric: metric, Resolution: res}
	ring := s.ringFor(res)
	for _, m := range ring.buf {
		if from != 0 && m.Tick < from {
			continue
		}
		if to != 0 && m.Tick > to {
			continue
		}
		v, ok := m.Get(metric)
		if !ok {
			continue
		}
		result.Points = append(result.Points, Point{Tick: m.Tick, Value: v})
	}
	return result
}
