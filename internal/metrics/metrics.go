package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunMetrics records per-run outcome counters and durations, tagged by
// report kind and outcome.
type RunMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewRunMetrics(reg prometheus.Registerer) *RunMetrics {
	m := &RunMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_runs_total",
			Help: "Scheduled report runs by report kind and outcome.",
		}, []string{"report", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_run_duration_seconds",
			Help:    "Scheduled report run duration by report kind and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"report", "outcome"}),
	}
	reg.MustRegister(m.runs, m.duration)
	return m
}

// ObserveRun records one run outcome.
func (m *RunMetrics) ObserveRun(report, outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(report, outcome).Inc()
	m.duration.WithLabelValues(report, outcome).Observe(elapsed.Seconds())
}

// Handler exposes the default prometheus registry for scraping.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
