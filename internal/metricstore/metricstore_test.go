package metricstore_test

import (
	"testing"

	"github.com/econregulator/regulator/internal/metricstore"
	"github.com/econregulator/regulator/pkg/types"
)

func TestLatestReturnsEmptySnapshotWhenStoreIsEmpty(t *testing.T) {
	s := metricstore.New()
	m := s.Latest(metricstore.Fine)
	if m == nil {
		t.Fatal("expected an empty snapshot, not nil")
	}
	if m.Tick != 0 {
		t.Errorf("expected zero-value snapshot, got tick %d", m.Tick)
	}
}

func TestRecordPushesToMediumAndCoarseOnBoundary(t *testing.T) {
	s := metricstore.New(metricstore.WithWindows(10, 100))

	for tick := int64(1); tick <= 10; tick++ {
		s.Record(&types.EconomyMetrics{Tick: tick, AvgSatisfaction: float64(tick)})
	}

	fine := s.Query("avgSatisfaction", 0, 0, metricstore.Fine)
	if len(fine.Points) != 10 {
		t.Fatalf("expected 10 fine points, got %d", len(fine.Points))
	}

	medium := s.Query("avgSatisfaction", 0, 0, metricstore.Medium)
	if len(medium.Points) != 1 || medium.Points[0].Tick != 10 {
		t.Fatalf("expected medium buffer to hold only the tick-10 boundary sample, got %+v", medium.Points)
	}

	coarse := s.Query("avgSatisfaction", 0, 0, metricstore.Coarse)
	if len(coarse.Points) != 0 {
		t.Fatalf("expected coarse buffer empty before the tick-100 boundary, got %+v", coarse.Points)
	}
}

func TestLatestReflectsMostRecentRecord(t *testing.T) {
	s := metricstore.New()
	s.Record(&types.EconomyMetrics{Tick: 1, AvgSatisfaction: 10})
	s.Record(&types.EconomyMetrics{Tick: 2, AvgSatisfaction: 20})

	m := s.Latest(metricstore.Fine)
	if m.Tick != 2 || m.AvgSatisfaction != 20 {
		t.Errorf("expected latest to be tick 2, got %+v", m)
	}
}

func TestQueryFiltersByTickRange(t *testing.T) {
	s := metricstore.New()
	for tick := int64(1); tick <= 5; tick++ {
		s.Record(&types.EconomyMetrics{Tick: tick, AvgSatisfaction: float64(tick * 10)})
	}

	result := s.Query("avgSatisfaction", 2, 4, metricstore.Fine)
	if len(result.Points) != 3 {
		t.Fatalf("expected 3 points in [2,4], got %d", len(result.Points))
	}
	if result.Points[0].Tick != 2 || result.Points[len(result.Points)-1].Tick != 4 {
		t.Errorf("expected ticks 2..4, got %+v", result.Points)
	}
}

func TestQueryResolvesNestedMapMetric(t *testing.T) {
	s := metricstore.New()
	s.Record(&types.EconomyMetrics{
		Tick:             1,
		SupplyByCurrency: map[string]float64{"gold": 500},
	})

	result := s.Query("supplyByCurrency.gold", 0, 0, metricstore.Fine)
	if len(result.Points) != 1 || result.Points[0].Value != 500 {
		t.Fatalf("expected resolved nested metric 500, got %+v", result.Points)
	}
}

func TestQueryUnknownMetricReturnsNoPoints(t *testing.T) {
	s := metricstore.New()
	s.Record(&types.EconomyMetrics{Tick: 1, AvgSatisfaction: 10})

	result := s.Query("doesNotExist", 0, 0, metricstore.Fine)
	if len(result.Points) != 0 {
		t.Errorf("expected no points for an unknown metric path, got %+v", result.Points)
	}
}

func TestRingBufferEvictsOldestPastCapacity(t *testing.T) {
	s := metricstore.New(metricstore.WithCapacities(3, 3, 3))
	for tick := int64(1); tick <= 5; tick++ {
		s.Record(&types.EconomyMetrics{Tick: tick})
	}

	result := s.Query("tick", 0, 0, metricstore.Fine)
	if len(result.Points) != 3 {
		t.Fatalf("expected ring buffer capped at capacity 3, got %d", len(result.Points))
	}
	if result.Points[0].Tick != 3 || result.Points[2].Tick != 5 {
		t.Errorf("expected oldest entries evicted, keeping ticks 3..5, got %+v", result.Points)
	}
}
