package tracker

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	ts "github.com/samuelfneumann/gosac/timestep"
)

// Metrics exports experiment progress and training statistics as
// Prometheus metrics. Metrics is a Tracker whose Save is a no-op, the
// metrics are scraped from the Registerer they were registered with.
type Metrics struct {
	steps         prometheus.Counter
	episodes      prometheus.Counter
	updates       prometheus.Counter
	episodeReturn prometheus.Gauge
	alpha         prometheus.Gauge
	losses        *prometheus.GaugeVec

	currentReturn float64
}

// NewMetrics creates the metrics in namespace and registers them with
// reg
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics,
	error) {
	m := &Metrics{
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "environment_steps_total",
			Help:      "Total number of environment steps taken.",
		}),
		episodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Total number of completed episodes.",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_updates_total",
			Help:      "Total number of training steps taken.",
		}),
		episodeReturn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "episode_return",
			Help:      "Return of the last completed episode.",
		}),
		alpha: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature",
			Help:      "Current entropy temperature.",
		}),
		losses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loss",
			Help:      "Loss of the last training step.",
		}, []string{"loss"}),
	}

	collectors := []prometheus.Collector{m.steps, m.episodes, m.updates,
		m.episodeReturn, m.alpha, m.losses}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("newMetrics: %w", err)
		}
	}
	return m, nil
}

// Track records an environment step, and the episode return when t is
// the last step of an episode
func (m *Metrics) Track(t ts.TimeStep) {
	if t.First() {
		m.currentReturn = 0
		return
	}

	m.steps.Inc()
	m.currentReturn += t.Reward
	if t.Last() {
		m.episodes.Inc()
		m.episodeReturn.Set(m.currentReturn)
		m.currentReturn = 0
	}
}

// ObserveTraining records the losses and temperature after updates
// training steps were taken
func (m *Metrics) ObserveTraining(losses map[string]float64, alpha float64,
	updates int) {
	if updates > 0 {
		m.updates.Add(float64(updates))
	}
	m.alpha.Set(alpha)
	for name, loss := range losses {
		m.losses.WithLabelValues(name).Set(loss)
	}
}

// Steps returns the counter of environment steps
func (m *Metrics) Steps() prometheus.Counter { return m.steps }

// Episodes returns the counter of completed episodes
func (m *Metrics) Episodes() prometheus.Counter { return m.episodes }

// Updates returns the counter of training steps taken
func (m *Metrics) Updates() prometheus.Counter { return m.updates }

// Save does nothing
func (m *Metrics) Save() error {
	return nil
}
