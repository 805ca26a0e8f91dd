// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a private registry so tests can create
// independent instances.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsResumed   prometheus.Counter
	SessionsConcluded *prometheus.CounterVec
	SessionsFailed    prometheus.Counter
	Interruptions     prometheus.Counter
	FramesLost        prometheus.Counter
	CheckpointSaves   prometheus.Counter
}

// New creates the collectors and registers them, along with an active-session
// gauge fed by liveSessions.
func New(liveSessions func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxtutor_sessions_started_total",
			Help: "Sessions created.",
		}),
		SessionsResumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxtutor_sessions_resumed_total",
			Help: "Sessions resumed from a checkpoint.",
		}),
		SessionsConcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxtutor_sessions_concluded_total",
			Help: "Sessions concluded, by whether a score was recorded.",
		}, []string{"scored"}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxtutor_sessions_failed_total",
			Help: "Sessions that ended in the failed state.",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxtutor_interruptions_total",
			Help: "User barge-ins that halted tutor output.",
		}),
		FramesLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxtutor_frames_lost_total",
			Help: "Inbound audio frames lost outside the reorder window.",
		}),
		CheckpointSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxtutor_checkpoint_saves_total",
			Help: "Checkpoint save attempts that succeeded.",
		}),
	}

	if liveSessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "voxtutor_sessions_active",
			Help: "Live sessions currently held by the manager.",
		}, liveSessions)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
