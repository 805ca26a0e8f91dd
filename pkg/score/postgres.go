package score

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// PostgresLeaderboard is a Leaderboard backed by Postgres. The version
// check rides on the UPDATE predicate; zero rows affected is a conflict.
type PostgresLeaderboard struct {
	pool *pgxpool.Pool
}

// NewPostgresLeaderboard creates a leaderboard over the given pool.
func NewPostgresLeaderboard(pool *pgxpool.Pool) *PostgresLeaderboard {
	return &PostgresLeaderboard{pool: pool}
}

// Get implements Leaderboard.
func (l *PostgresLeaderboard) Get(ctx context.Context, userID string) (*types.LeaderboardRecord, error) {
	rec := &types.LeaderboardRecord{UserID: userID}
	err := l.pool.QueryRow(ctx, `
		SELECT total_score, streak, last_day, achieved_at, version
		FROM leaderboard WHERE user_id = $1`, userID).
		Scan(&rec.TotalScore, &rec.Streak, &rec.LastDay, &rec.AchievedAt, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, core.NewPersistenceError("load leaderboard record", err)
	}
	return rec, nil
}

// Put implements Leaderboard.
func (l *PostgresLeaderboard) Put(ctx context.Context, rec *types.LeaderboardRecord) error {
	if rec == nil || rec.UserID == "" {
		return core.NewValidationError("leaderboard record requires a user id")
	}

	if rec.Version == 0 {
		tag, err := l.pool.Exec(ctx, `
			INSERT INTO leaderboard (user_id, total_score, streak, last_day, achieved_at, version)
			VALUES ($1, $2, $3, $4, $5, 1)
			ON CONFLICT (user_id) DO NOTHING`,
			rec.UserID, rec.TotalScore, rec.Streak, rec.LastDay, rec.AchievedAt)
		if err != nil {
			return core.NewPersistenceError("insert leaderboard record", err)
		}
		if tag.RowsAffected() == 0 {
			return core.NewConflictError("leaderboard record already exists")
		}
		return nil
	}

	tag, err := l.pool.Exec(ctx, `
		UPDATE leaderboard SET
			total_score = $2,
			streak = $3,
			last_day = $4,
			achieved_at = $5,
			version = version + 1
		WHERE user_id = $1 AND version = $6`,
		rec.UserID, rec.TotalScore, rec.Streak, rec.LastDay, rec.AchievedAt, rec.Version)
	if err != nil {
		return core.NewPersistenceError("update leaderboard record", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewConflictError("leaderboard version mismatch")
	}
	return nil
}

// Top implements Leaderboard.
func (l *PostgresLeaderboard) Top(ctx context.Context, n int) ([]types.LeaderboardRecord, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT user_id, total_score, streak, last_day, achieved_at, version
		FROM leaderboard
		ORDER BY total_score DESC, achieved_at ASC
		LIMIT $1`, n)
	if err != nil {
		return nil, core.NewPersistenceError("query leaderboard", err)
	}
	defer rows.Close()

	var out []types.LeaderboardRecord
	for rows.Next() {
		var rec types.LeaderboardRecord
		if err := rows.Scan(&rec.UserID, &rec.TotalScore, &rec.Streak, &rec.LastDay, &rec.AchievedAt, &rec.Version); err != nil {
			return nil, core.NewPersistenceError("scan leaderboard record", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
