package session

import (
	"log/slog"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Notification is a best-effort user-facing signal. Delivery failures never
// affect session state.
type Notification struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Notification kinds.
const (
	NotifyPhaseChange  = "phase_change"
	NotifyFrameLoss    = "frame_loss"
	NotifyScorePosted  = "score_posted"
	NotifyScorePending = "score_pending"
)

// Notifier delivers notifications to the user's live connection. Implemented
// by the gateway; a nil or failing notifier is tolerated everywhere.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the log, used when no live connection
// is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("session notification",
		"session_id", n.SessionID, "kind", n.Kind, "phase", n.Phase, "message", n.Message)
}

func phaseNotification(sessionID string, phase types.Phase, at time.Time) Notification {
	return Notification{
		SessionID: sessionID,
		Kind:      NotifyPhaseChange,
		Phase:     phase.String(),
		At:        at,
	}
}
