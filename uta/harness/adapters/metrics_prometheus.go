package adapters

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

// PrometheusMetrics records harness measurements as Prometheus collectors.
type PrometheusMetrics struct {
	turnLatency   *prometheus.HistogramVec
	turnCost      *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	judgeDuration *prometheus.HistogramVec
	judgeFallback *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors under namespace and registers
// them with reg.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_turn_latency_ms",
			Help:      "Latency of agent replies in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"scenario"}),
		turnCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cost_usd_total",
			Help:      "Accumulated agent cost in USD.",
		}, []string{"scenario"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed conversations by outcome.",
		}, []string{"scenario", "passed", "stop_reason"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full conversation including judging.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scenario"}),
		judgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_duration_seconds",
			Help:      "Time spent evaluating a transcript.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		judgeFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_fallback_total",
			Help:      "Evaluations that fell back to heuristic scores.",
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{
		m.turnLatency, m.turnCost, m.runs, m.runDuration, m.judgeDuration, m.judgeFallback,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) ObserveTurn(scenarioID string, latencyMs, costUSD float64) {
	m.turnLatency.WithLabelValues(scenarioID).Observe(latencyMs)
	if costUSD > 0 {
		m.turnCost.WithLabelValues(scenarioID).Add(costUSD)
	}
}

func (m *PrometheusMetrics) ObserveRun(scenarioID string, passed bool, stopReason string, duration time.Duration) {
	m.runs.WithLabelValues(scenarioID, strconv.FormatBool(passed), stopReason).Inc()
	m.runDuration.WithLabelValues(scenarioID).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveJudge(mode string, fallback bool, duration time.Duration) {
	m.judgeDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if fallback {
		m.judgeFallback.WithLabelValues(mode).Inc()
	}
}

var _ ports.Metrics = (*PrometheusMetrics)(nil)
