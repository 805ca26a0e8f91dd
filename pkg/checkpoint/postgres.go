package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// PostgresStore is a Store backed by Postgres. Atomicity comes from single
// conditional upserts: a stale or regressing write matches zero rows and
// the prior checkpoint stays readable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, cp *types.Checkpoint) error {
	if err := validate(cp, nil); err != nil {
		return err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return core.NewPersistenceError("encode checkpoint", err)
	}
	savedAt := cp.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (session_id, version, teaching_position, payload, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			version = EXCLUDED.version,
			teaching_position = EXCLUDED.teaching_position,
			payload = EXCLUDED.payload,
			saved_at = EXCLUDED.saved_at
		WHERE checkpoints.version < EXCLUDED.version
		  AND checkpoints.teaching_position <= EXCLUDED.teaching_position`,
		cp.SessionID, cp.Version, cp.TeachingPosition, payload, savedAt)
	if err != nil {
		return core.NewPersistenceError("save checkpoint", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewConflictError("checkpoint superseded by a newer version")
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*types.Checkpoint, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM checkpoints WHERE session_id = $1`, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, core.NewPersistenceError("load checkpoint", err)
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, ErrCorrupt
	}
	if cp.SessionID != sessionID {
		return nil, ErrCorrupt
	}
	return &cp, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE session_id = $1`, sessionID)
	if err != nil {
		return core.NewPersistenceError("delete checkpoint", err)
	}
	return nil
}

// SaveConcluded implements Store.
func (s *PostgresStore) SaveConcluded(ctx context.Context, rec *types.ConcludedSession) error {
	if rec == nil || rec.SessionID == "" {
		return core.NewValidationError("concluded record requires a session id")
	}
	var score *int
	if rec.Score != nil {
		v := *rec.Score
		score = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO concluded_sessions (session_id, user_id, day, score, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.UserID, rec.Day, score, rec.EndedAt)
	if err != nil {
		return core.NewPersistenceError("save concluded session", err)
	}
	return nil
}

// LoadConcluded implements Store.
func (s *PostgresStore) LoadConcluded(ctx context.Context, sessionID string) (*types.ConcludedSession, error) {
	rec := &types.ConcludedSession{SessionID: sessionID}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, day, score, ended_at
		FROM concluded_sessions WHERE session_id = $1`, sessionID).
		Scan(&rec.UserID, &rec.Day, &rec.Score, &rec.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, core.NewPersistenceError("load concluded session", err)
	}
	return rec, nil
}
