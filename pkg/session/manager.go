package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Manager owns the live controllers, one per active session. It is the
// single place a session id resolves to a controller, so two controllers can
// never run the same session.
type Manager struct {
	config Config
	logger *slog.Logger
	deps   Deps

	// MaxSessionsPerUser bounds concurrent live sessions per user. Zero
	// means one.
	maxPerUser int

	mu       sync.Mutex
	sessions map[string]*Controller
	byUser   map[string]int
}

// NewManager creates a manager. maxPerUser of zero or less allows one live
// session per user.
func NewManager(config Config, logger *slog.Logger, deps Deps, maxPerUser int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerUser <= 0 {
		maxPerUser = 1
	}
	return &Manager{
		config:     config,
		logger:     logger,
		deps:       deps,
		maxPerUser: maxPerUser,
		sessions:   make(map[string]*Controller),
		byUser:     make(map[string]int),
	}
}

// StartSession validates the day, creates a controller, and starts teaching.
func (m *Manager) StartSession(ctx context.Context, userID string, day int) (*types.Session, error) {
	if userID == "" {
		return nil, core.NewValidationErrorWithParam("user id is required", "user_id")
	}

	m.mu.Lock()
	if m.byUser[userID] >= m.maxPerUser {
		m.mu.Unlock()
		return nil, core.NewConflictError("user already has a live session")
	}
	m.byUser[userID]++
	m.mu.Unlock()

	c := NewController(m.config, m.logger, m.deps)
	c.onDone = m.unregister
	sess, err := c.Start(ctx, userID, day)
	if err != nil {
		m.release(userID)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = c
	m.mu.Unlock()
	return sess, nil
}

// Get returns the live controller for a session id.
func (m *Manager) Get(sessionID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[sessionID]
	if !ok {
		return nil, core.NewNotFoundError("no live session with id " + sessionID)
	}
	return c, nil
}

// PauseSession freezes a live session and returns its checkpoint.
func (m *Manager) PauseSession(ctx context.Context, sessionID string) (*types.Checkpoint, error) {
	c, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return c.Pause(ctx)
}

// ResumeSession continues a paused session. A live paused controller resumes
// in place; otherwise the latest checkpoint is restored into a fresh
// controller. A checkpoint that cannot be decoded surfaces as a
// corrupt-checkpoint error, never a silent fresh start.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) (*SessionContext, error) {
	if c, err := m.Get(sessionID); err == nil {
		return c.Resume(ctx)
	}

	// A concluded session keeps its final checkpoint for audit, so the
	// concluded record is checked first; it must never restart.
	if rec, recErr := m.deps.Checkpoints.LoadConcluded(ctx, sessionID); recErr == nil && rec != nil {
		return nil, core.NewValidationError("session is already concluded")
	}

	cp, err := m.deps.Checkpoints.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, live := m.sessions[sessionID]; live {
		// Lost a race with another resume; defer to the live controller.
		c := m.sessions[sessionID]
		m.mu.Unlock()
		return c.Resume(ctx)
	}
	m.byUser[cp.Session.UserID]++
	m.mu.Unlock()

	c := NewController(m.config, m.logger, m.deps)
	c.onDone = m.unregister
	if err := c.StartFromCheckpoint(ctx, cp); err != nil {
		m.release(cp.Session.UserID)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = c
	m.mu.Unlock()
	return c.Resume(ctx)
}

// ConcludeSession finishes a session, blocking until its score is committed.
func (m *Manager) ConcludeSession(ctx context.Context, sessionID string) (*types.SessionScore, error) {
	c, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return c.Conclude(ctx)
}

// SubmitCode forwards a code or image submission for review.
func (m *Manager) SubmitCode(ctx context.Context, sessionID string, payload []byte, format string) error {
	c, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return c.SubmitCode(ctx, payload, format)
}

// SubmitAudio forwards one inbound frame to the session's pipeline.
func (m *Manager) SubmitAudio(sessionID string, frame types.AudioFrame) error {
	c, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	c.Ingest(frame)
	return nil
}

// Snapshot returns a read-only view of a live session.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*SessionContext, error) {
	c, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return c.Snapshot(ctx)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PauseAll checkpoints every live session, used during graceful shutdown.
func (m *Manager) PauseAll(ctx context.Context) {
	m.mu.Lock()
	live := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		if _, err := c.Pause(ctx); err != nil {
			m.logger.Warn("shutdown pause failed",
				"session_id", c.ID(), "error", err)
		}
	}
}

func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	c, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if ok {
		m.release(c.UserID())
	}
}

func (m *Manager) release(userID string) {
	m.mu.Lock()
	if m.byUser[userID] > 0 {
		m.byUser[userID]--
	}
	m.mu.Unlock()
}
