package live

import (
	"log/slog"
	"sync"

	"github.com/voxtutor/voxtutor/pkg/core/types"
	"github.com/voxtutor/voxtutor/pkg/gateway/metrics"
	"github.com/voxtutor/voxtutor/pkg/session"
)

// Hub routes controller notifications to whichever live connection currently
// serves the session. Sessions without a connection fall back to the log;
// notifications are best-effort either way.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	sinks map[string]func(session.Notification)
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		metrics: m,
		sinks:   make(map[string]func(session.Notification)),
	}
}

// Register attaches a delivery sink for one session.
func (h *Hub) Register(sessionID string, sink func(session.Notification)) {
	h.mu.Lock()
	h.sinks[sessionID] = sink
	h.mu.Unlock()
}

// Unregister detaches the session's sink.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	delete(h.sinks, sessionID)
	h.mu.Unlock()
}

// Notify implements session.Notifier.
func (h *Hub) Notify(n session.Notification) {
	h.observe(n)

	h.mu.Lock()
	sink := h.sinks[n.SessionID]
	h.mu.Unlock()
	if sink != nil {
		sink(n)
		return
	}
	h.logger.Info("session notification",
		"session_id", n.SessionID, "kind", n.Kind, "phase", n.Phase, "message", n.Message)
}

func (h *Hub) observe(n session.Notification) {
	if h.metrics == nil {
		return
	}
	switch n.Kind {
	case session.NotifyFrameLoss:
		h.metrics.FramesLost.Inc()
	case session.NotifyScorePosted:
		h.metrics.SessionsConcluded.WithLabelValues("true").Inc()
	case session.NotifyScorePending:
		h.metrics.SessionsConcluded.WithLabelValues("false").Inc()
	case session.NotifyPhaseChange:
		switch n.Phase {
		case types.PhaseInterruptedPause.String():
			h.metrics.Interruptions.Inc()
		case types.PhaseFailed.String():
			h.metrics.SessionsFailed.Inc()
		}
	}
}
