package cmd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/individual-sim/individual/sim"
)

// runTelemetry exports per-step statistics as Prometheus collectors.
type runTelemetry struct {
	registry     *prometheus.Registry
	steps        prometheus.Counter
	eventsFired  prometheus.Counter
	updates      prometheus.Counter
	stepDuration prometheus.Histogram
	clock        prometheus.Gauge
}

func newRunTelemetry() *runTelemetry {
	t := &runTelemetry{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "individual_steps_total",
			Help: "Timesteps committed.",
		}),
		eventsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "individual_events_fired_total",
			Help: "Event firings across global and targeted events.",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "individual_updates_committed_total",
			Help: "Queued variable updates and schedule changes applied at commit.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "individual_step_duration_seconds",
			Help:    "Wall time per timestep, commit included.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "individual_clock",
			Help: "Last committed timestep.",
		}),
	}
	t.registry.MustRegister(t.steps, t.eventsFired, t.updates, t.stepDuration, t.clock)
	return t
}

func (t *runTelemetry) observe(s sim.StepStats) {
	t.steps.Inc()
	t.eventsFired.Add(float64(s.EventsFired))
	t.updates.Add(float64(s.UpdatesCommitted))
	t.stepDuration.Observe(s.Duration.Seconds())
	t.clock.Set(float64(s.Timestep))
}

func (t *runTelemetry) write(path string) error {
	return prometheus.WriteToTextfile(path, t.registry)
}
