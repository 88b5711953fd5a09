// Package metrics exposes the interview's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns          *prometheus.CounterVec
	modelCalls     *prometheus.CounterVec
	modelLatency   prometheus.Histogram
	articles       *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_turns_total",
			Help: "User submissions processed, by state they were processed in",
		}, []string{"state"}),
		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_model_calls_total",
			Help: "Model invocation attempts by outcome",
		}, []string{"outcome"}),
		modelLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "interview_model_call_duration_seconds",
			Help:    "Duration of single model invocation attempts",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		articles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_articles_total",
			Help: "Finished articles by persistence outcome",
		}, []string{"outcome"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "interview_active_sessions",
			Help: "Sessions currently held by the registry",
		}),
	}
}

func (m *Metrics) TurnProcessed(state string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state).Inc()
}

func (m *Metrics) ModelCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelCalls.WithLabelValues(outcome).Inc()
	m.modelLatency.Observe(d.Seconds())
}

func (m *Metrics) ArticleFinished(persisted bool) {
	if m == nil {
		return
	}
	outcome := "persisted"
	if !persisted {
		outcome = "persist_failed"
	}
	m.articles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
