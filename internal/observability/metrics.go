package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for tool calls and upstream fetches.
type Metrics struct {
	ToolInvocations  *prometheus.CounterVec   // labels: tool, outcome
	ToolDuration     *prometheus.HistogramVec // labels: tool
	UpstreamAttempts *prometheus.CounterVec   // labels: upstream, outcome={success,transient,unauthorized,upstream}
	UpstreamDuration *prometheus.HistogramVec // labels: upstream
	HeatWatchTier    *prometheus.GaugeVec     // labels: location; value is the tier level 0-3
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ToolInvocations,
		m.ToolDuration,
		m.UpstreamAttempts,
		m.UpstreamDuration,
		m.HeatWatchTier,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heat_guard",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heat_guard",
			Name:      "tool_duration_seconds",
			Help:      "Wall-clock duration of a tool invocation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
		UpstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heat_guard",
			Name:      "upstream_attempts_total",
			Help:      "Individual HTTP attempts against upstream services by outcome.",
		}, []string{"upstream", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heat_guard",
			Name:      "upstream_attempt_duration_seconds",
			Help:      "Duration of a single upstream HTTP attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"upstream"}),
		HeatWatchTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "heat_guard",
			Name:      "heat_watch_tier",
			Help:      "Last heat-risk tier level (0=CONCERN .. 3=DANGER) per watched location.",
		}, []string{"location"}),
	}
}

// ObserveAttempt records one upstream HTTP attempt.
func (m *Metrics) ObserveAttempt(upstream, outcome string, duration time.Duration) {
	m.UpstreamAttempts.WithLabelValues(upstream, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

// ObserveTool records one finished tool invocation.
func (m *Metrics) ObserveTool(tool, outcome string, duration time.Duration) {
	m.ToolInvocations.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// SetHeatWatchTier records the latest tier level seen for a watched location.
func (m *Metrics) SetHeatWatchTier(location string, level int) {
	m.HeatWatchTier.WithLabelValues(location).Set(float64(level))
}
