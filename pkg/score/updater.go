package score

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// MaxConflictRetries is how many version clashes Commit absorbs before the
// update is deferred to the reconcile queue.
const MaxConflictRetries = 5

// Updater computes final scores and applies them to the leaderboard. It is
// called exactly once per session, by the session controller, at
// conclusion.
type Updater struct {
	leaderboard Leaderboard
	queue       ReconcileQueue
	scoring     ScoringConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewUpdater creates an updater over the given leaderboard and queue.
func NewUpdater(leaderboard Leaderboard, queue ReconcileQueue, scoring ScoringConfig, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	if scoring.VivaWeight == 0 && scoring.CodeWeight == 0 {
		scoring = DefaultScoringConfig()
	}
	return &Updater{
		leaderboard: leaderboard,
		queue:       queue,
		scoring:     scoring,
		logger:      logger,
		now:         time.Now,
	}
}

// Commit derives the final score from the assessment and applies it to the
// user's leaderboard record. A nil assessment records the null-score
// sentinel and leaves the leaderboard untouched (forced conclusion with no
// completed assessment). Commit returns once the leaderboard write is
// observed or the update is durably queued for reconciliation; it never
// blocks indefinitely on a contended record.
func (u *Updater) Commit(ctx context.Context, sessionID, userID string, day int, res *types.AssessmentResult) (*types.SessionScore, error) {
	now := u.now()
	out := &types.SessionScore{
		SessionID:  sessionID,
		UserID:     userID,
		AchievedAt: now,
	}
	if res == nil {
		u.logger.Info("recording null score, no assessment completed",
			"session_id", sessionID, "user_id", userID)
		return out, nil
	}

	final := Compute(res, u.scoring)
	out.Value = &final

	err := u.applyWithRetry(ctx, userID, final, day, now, MaxConflictRetries)
	if err == nil {
		return out, nil
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Type == core.ErrConflict {
		// Retries exhausted on a hot record: defer rather than block the
		// user-facing conclusion.
		u.logger.Warn("leaderboard conflicts exhausted, deferring to reconciliation",
			"session_id", sessionID, "user_id", userID)
		if qErr := u.queue.Enqueue(ctx, PendingUpdate{UserID: userID, Delta: final, Day: day, At: now}); qErr != nil {
			return nil, qErr
		}
		return out, nil
	}
	return nil, err
}

// applyWithRetry runs the optimistic read-modify-write loop. maxRetries of
// zero retries until ctx is done (reconciliation path).
func (u *Updater) applyWithRetry(ctx context.Context, userID string, delta, day int, at time.Time, maxRetries int) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := u.leaderboard.Get(ctx, userID)
		if errors.Is(err, ErrNoRecord) {
			rec = &types.LeaderboardRecord{UserID: userID}
		} else if err != nil {
			return err
		}

		next := *rec
		next.TotalScore = rec.TotalScore + delta
		next.Streak = nextStreak(rec, day)
		if day > rec.LastDay {
			next.LastDay = day
		}
		next.AchievedAt = at

		err = u.leaderboard.Put(ctx, &next)
		if err == nil {
			return nil
		}
		var coreErr *core.Error
		if !errors.As(err, &coreErr) || coreErr.Type != core.ErrConflict {
			return err
		}
		if maxRetries > 0 && attempt+1 >= maxRetries {
			return err
		}
		u.logger.Debug("leaderboard version conflict, re-reading",
			"user_id", userID, "attempt", attempt+1)
	}
}

// nextStreak advances the consecutive-day streak: same day leaves it
// unchanged, the next day extends it, anything else resets to one.
func nextStreak(rec *types.LeaderboardRecord, day int) int {
	switch {
	case rec.Version == 0:
		return 1
	case day == rec.LastDay:
		return rec.Streak
	case day == rec.LastDay+1:
		return rec.Streak + 1
	default:
		return 1
	}
}
