package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the coaching service.
// A nil *Metrics records nothing.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	PhaseTransitions *prometheus.CounterVec

	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec
	LLMTokensTotal   *prometheus.CounterVec

	CacheOpsTotal *prometheus.CounterVec

	AnalysesTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_turns_total",
				Help: "Conversation turns by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
			},
			[]string{"topic"},
		),
		PhaseTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_phase_transitions_total",
				Help: "Phase transitions by topic and target phase",
			},
			[]string{"topic", "from", "to"},
		),
		LLMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_llm_requests_total",
				Help: "LLM invocations by provider, model and outcome",
			},
			[]string{"provider", "model", "outcome"},
		),
		LLMDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_llm_request_duration_seconds",
				Help:    "Duration of LLM invocations in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
			},
			[]string{"provider"},
		),
		LLMTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_llm_tokens_total",
				Help: "Tokens consumed by provider, model and kind",
			},
			[]string{"provider", "model", "kind"},
		),
		CacheOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_cache_operations_total",
				Help: "Cache operations by operation and result",
			},
			[]string{"op", "result"},
		),
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_analyses_total",
				Help: "Analysis runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(topic, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(topic, outcome).Inc()
	m.TurnDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

func (m *Metrics) ObservePhaseTransition(topic, from, to string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(topic, from, to).Inc()
}

func (m *Metrics) ObserveLLM(provider, model, outcome string, duration time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	m.LLMDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) ObserveCache(op, result string) {
	if m == nil {
		return
	}
	m.CacheOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveAnalysis(kind, outcome string) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(kind, outcome).Inc()
}
