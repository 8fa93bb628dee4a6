package transport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/econregulator/regulator/internal/metricstore"
)

var (
	tickHealthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "econregulator",
		Name:      "health_score",
		Help:      "Current health score of the governed economy, 0-100.",
	})
	activePlansGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "econregulator",
		Name:      "active_plans",
		Help:      "Number of currently active action plans.",
	})
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "econregulator",
		Name:      "decisions_total",
		Help:      "Count of decision log entries by result.",
	}, []string{"result"})
)

// handlePrometheus exposes the regulator's gauges in Prometheus exposition
// format, refreshed from current state on every scrape.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	latest := s.metrics.Latest(metricstore.Fine)
	tickHealthGauge.Set(s.ctrl.HealthScore(latest))
	activePlansGauge.Set(float64(s.ctrl.ActivePlanCount()))

	promhttp.Handler().ServeHTTP(w, r)
}
