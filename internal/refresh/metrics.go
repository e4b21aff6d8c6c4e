package refresh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink exports refresh outcomes as Prometheus metrics. Alerting on
// stale rollups keys off mesa_rollup_last_refresh_timestamp_seconds.
type MetricsSink struct {
	refreshes   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rows        *prometheus.GaugeVec
	lastRefresh *prometheus.GaugeVec
}

// NewMetricsSink registers the refresh metrics on reg and returns the sink.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesa_rollup_refreshes_total",
			Help: "Refresh attempts by rollup and result.",
		}, []string{"rollup", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mesa_rollup_refresh_duration_seconds",
			Help:    "Wall-clock duration of rollup refreshes.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"rollup"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesa_rollup_snapshot_rows",
			Help: "Row count of the current snapshot per rollup.",
		}, []string{"rollup"}),
		lastRefresh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesa_rollup_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful refresh per rollup.",
		}, []string{"rollup"}),
	}
	reg.MustRegister(s.refreshes, s.duration, s.rows, s.lastRefresh)
	return s
}

func (s *MetricsSink) RefreshStarted(string) {}

func (s *MetricsSink) RefreshCompleted(rollup string, _ int64, rows int, took time.Duration) {
	s.refreshes.WithLabelValues(rollup, "success").Inc()
	s.duration.WithLabelValues(rollup).Observe(took.Seconds())
	s.rows.WithLabelValues(rollup).Set(float64(rows))
	s.lastRefresh.WithLabelValues(rollup).SetToCurrentTime()
}

func (s *MetricsSink) RefreshFailed(rollup string, took time.Duration, timeout bool, _ error) {
	result := "failure"
	if timeout {
		result = "timeout"
	}
	s.refreshes.WithLabelValues(rollup, result).Inc()
	s.duration.WithLabelValues(rollup).Observe(took.Seconds())
}
