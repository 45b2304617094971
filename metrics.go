package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armatrix/agent-bridge/permission"
)

// Metrics exposes bridge activity to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	Requests        *prometheus.CounterVec
	ToolVerdicts    *prometheus.CounterVec
	EstimatedTokens prometheus.Counter
	SessionDuration *prometheus.HistogramVec
}

// NewMetrics creates the bridge collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_bridge_requests_total",
			Help: "Bridge requests by entry point and outcome",
		}, []string{"entry", "outcome"}),
		ToolVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_bridge_tool_verdicts_total",
			Help: "Tool permission verdicts by behavior",
		}, []string{"behavior"}),
		EstimatedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_bridge_estimated_input_tokens_total",
			Help: "Estimated input tokens of requests sent to the runtime",
		}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_bridge_session_duration_seconds",
			Help:    "Wall time from session open to result",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"entry"}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.ToolVerdicts, m.EstimatedTokens, m.SessionDuration)
	}
	return m
}

func (m *Metrics) recordRequest(entry, outcome string) {
	if m == nil || m.Requests == nil {
		return
	}
	m.Requests.WithLabelValues(entry, outcome).Inc()
}

func (m *Metrics) recordVerdict(b permission.Behavior) {
	if m == nil || m.ToolVerdicts == nil {
		return
	}
	m.ToolVerdicts.WithLabelValues(string(b)).Inc()
}

func (m *Metrics) recordTokens(n int) {
	if m == nil || m.EstimatedTokens == nil {
		return
	}
	m.EstimatedTokens.Add(float64(n))
}

func (m *Metrics) observeSession(entry string, d time.Duration) {
	if m == nil || m.SessionDuration == nil {
		return
	}
	m.SessionDuration.WithLabelValues(entry).Observe(d.Seconds())
}
