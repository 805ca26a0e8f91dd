package score

import (
	"context"
	"sort"
	"sync"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Leaderboard stores per-user ranking records. Put is conditional on the
// record's version matching the stored version, which bounds contention to
// per-user conflicts without any global lock.
type Leaderboard interface {
	// Get returns the record for a user, or ErrNoRecord.
	Get(ctx context.Context, userID string) (*types.LeaderboardRecord, error)
	// Put writes the record if rec.Version matches the stored version (or
	// no record exists and rec.Version is zero), storing it with the
	// version incremented. A mismatch returns a conflict error.
	Put(ctx context.Context, rec *types.LeaderboardRecord) error
	// Top returns up to n records ordered by total score descending, ties
	// broken by earliest achieved-at ascending.
	Top(ctx context.Context, n int) ([]types.LeaderboardRecord, error)
}

// ErrNoRecord is returned by Get for an unknown user.
var ErrNoRecord = core.NewNotFoundError("no leaderboard record for user")

// MemoryLeaderboard is an in-memory Leaderboard for tests and
// single-process runs.
type MemoryLeaderboard struct {
	mu      sync.Mutex
	records map[string]types.LeaderboardRecord
}

// NewMemoryLeaderboard creates an empty MemoryLeaderboard.
func NewMemoryLeaderboard() *MemoryLeaderboard {
	return &MemoryLeaderboard{records: make(map[string]types.LeaderboardRecord)}
}

// Get implements Leaderboard.
func (l *MemoryLeaderboard) Get(_ context.Context, userID string) (*types.LeaderboardRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[userID]
	if !ok {
		return nil, ErrNoRecord
	}
	return &rec, nil
}

// Put implements Leaderboard.
func (l *MemoryLeaderboard) Put(_ context.Context, rec *types.LeaderboardRecord) error {
	if rec == nil || rec.UserID == "" {
		return core.NewValidationError("leaderboard record requires a user id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, exists := l.records[rec.UserID]
	if !exists {
		if rec.Version != 0 {
			return core.NewConflictError("leaderboard version mismatch")
		}
	} else if stored.Version != rec.Version {
		return core.NewConflictError("leaderboard version mismatch")
	}
	next := *rec
	next.Version = rec.Version + 1
	l.records[rec.UserID] = next
	return nil
}

// Top implements Leaderboard.
func (l *MemoryLeaderboard) Top(_ context.Context, n int) ([]types.LeaderboardRecord, error) {
	l.mu.Lock()
	out := make([]types.LeaderboardRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].AchievedAt.Before(out[j].AchievedAt)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
