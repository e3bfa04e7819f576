package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTurn("goals", "ok", time.Second)
	m.ObserveTurn("goals", "ok", time.Second)
	m.ObserveLLM("mock", "mock-1", "ok", time.Millisecond, 10, 5)
	m.ObserveCache("get", "hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("goals", "ok")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.LLMTokensTotal.WithLabelValues("mock", "mock-1", "prompt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheOpsTotal.WithLabelValues("get", "hit")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("goals", "ok", time.Second)
		m.ObservePhaseTransition("goals", "a", "b")
		m.ObserveLLM("p", "m", "ok", time.Second, 1, 1)
		m.ObserveCache("get", "miss")
		m.ObserveAnalysis("kpi", "ok")
	})
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
	assert.NotNil(t, LoggerFromContext(ctx))
}
