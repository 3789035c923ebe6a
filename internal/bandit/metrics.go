package bandit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes agent activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	decisions      *prometheus.CounterVec
	updates        *prometheus.CounterVec
	retrainSeconds prometheus.Histogram
	historySize    prometheus.Gauge
	vocabularySize prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spinloop",
			Subsystem: "bandit",
			Name:      "decisions_total",
			Help:      "Action selections by outcome (exploit, explore, degraded).",
		}, []string{"outcome"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spinloop",
			Subsystem: "bandit",
			Name:      "updates_total",
			Help:      "Reward updates by path (incremental, retrain).",
		}, []string{"path"}),
		retrainSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spinloop",
			Subsystem: "bandit",
			Name:      "retrain_duration_seconds",
			Help:      "Time spent replaying history after vocabulary drift.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spinloop",
			Subsystem: "bandit",
			Name:      "history_records",
			Help:      "Interaction records held by the agent.",
		}),
		vocabularySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spinloop",
			Subsystem: "bandit",
			Name:      "vocabulary_terms",
			Help:      "Terms in the current encoder generation.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.updates, m.retrainSeconds, m.historySize, m.vocabularySize} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) decision(o Outcome) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) update(path string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(path).Inc()
}

func (m *Metrics) retrained(d time.Duration) {
	if m == nil {
		return
	}
	m.retrainSeconds.Observe(d.Seconds())
}

func (m *Metrics) sizes(history, vocabulary int) {
	if m == nil {
		return
	}
	m.historySize.Set(float64(history))
	m.vocabularySize.Set(float64(vocabulary))
}
