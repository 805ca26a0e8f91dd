// Package checkpoint persists recoverable session snapshots and the durable
// record of concluded sessions.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Store is durable load/save/delete of checkpoints keyed by session id,
// plus the separate record of concluded sessions.
//
// Save is atomic: a write either fully succeeds or the prior checkpoint
// remains readable. Implementations must reject version regressions, and a
// checkpoint whose teaching position moves backwards relative to the stored
// one, so a racing stale writer can never clobber newer progress.
type Store interface {
	Save(ctx context.Context, cp *types.Checkpoint) error
	Load(ctx context.Context, sessionID string) (*types.Checkpoint, error)
	Delete(ctx context.Context, sessionID string) error

	SaveConcluded(ctx context.Context, rec *types.ConcludedSession) error
	LoadConcluded(ctx context.Context, sessionID string) (*types.ConcludedSession, error)
}

// ErrNotFound is returned when no checkpoint or record exists.
var ErrNotFound = core.NewNotFoundError("checkpoint not found")

// ErrCorrupt is returned when a stored checkpoint cannot be decoded.
var ErrCorrupt = &core.Error{
	Type:    core.ErrPersistence,
	Code:    "corrupt_checkpoint",
	Message: "checkpoint payload is corrupt",
}

// validate enforces the invariants shared by all store implementations.
func validate(cp *types.Checkpoint, prior *types.Checkpoint) error {
	if cp == nil || cp.SessionID == "" {
		return core.NewValidationError("checkpoint requires a session id")
	}
	if prior == nil {
		return nil
	}
	if cp.Version <= prior.Version {
		return core.NewConflictError("checkpoint version did not advance")
	}
	if cp.TeachingPosition < prior.TeachingPosition {
		return core.NewPersistenceError("teaching position regressed", nil)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]*types.Checkpoint
	concluded   map[string]*types.ConcludedSession
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]*types.Checkpoint),
		concluded:   make(map[string]*types.ConcludedSession),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validate(cp, s.checkpoints[cp.SessionID]); err != nil {
		return err
	}
	clone := cloneCheckpoint(cp)
	if clone.SavedAt.IsZero() {
		clone.SavedAt = time.Now()
	}
	s.checkpoints[cp.SessionID] = clone
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(cp), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, sessionID)
	return nil
}

// SaveConcluded implements Store.
func (s *MemoryStore) SaveConcluded(_ context.Context, rec *types.ConcludedSession) error {
	if rec == nil || rec.SessionID == "" {
		return core.NewValidationError("concluded record requires a session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.concluded[rec.SessionID] = &clone
	return nil
}

// LoadConcluded implements Store.
func (s *MemoryStore) LoadConcluded(_ context.Context, sessionID string) (*types.ConcludedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.concluded[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func cloneCheckpoint(cp *types.Checkpoint) *types.Checkpoint {
	clone := *cp
	clone.Conversation = make([]types.TranscriptEntry, len(cp.Conversation))
	copy(clone.Conversation, cp.Conversation)
	return &clone
}
