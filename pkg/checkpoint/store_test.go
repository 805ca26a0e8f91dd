package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

func testCheckpoint(version int64, position int) *types.Checkpoint {
	return &types.Checkpoint{
		SessionID: "sess-1",
		Version:   version,
		Session: types.Session{
			ID:        "sess-1",
			UserID:    "user-1",
			Day:       3,
			Phase:     types.PhaseTeaching,
			ElapsedMS: 120_000,
		},
		Conversation: []types.TranscriptEntry{
			{Role: "tutor", Text: "welcome back"},
		},
		TeachingPosition: position,
		ResumePhase:      types.PhaseTeaching,
	}
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, testCheckpoint(1, 2)); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.Version != 1 || cp.TeachingPosition != 2 {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
	if cp.SavedAt.IsZero() {
		t.Fatal("expected SavedAt stamped on save")
	}
	if cp.Session.ElapsedMS != 120_000 {
		t.Fatalf("expected elapsed preserved, got %d", cp.Session.ElapsedMS)
	}
}

func TestMemoryStore_LoadedCheckpointIsIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, testCheckpoint(1, 0)); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, _ := store.Load(ctx, "sess-1")
	cp.Conversation[0].Text = "mutated"
	cp.Session.Day = 99

	again, _ := store.Load(ctx, "sess-1")
	if again.Conversation[0].Text != "welcome back" || again.Session.Day != 3 {
		t.Fatal("expected stored checkpoint unaffected by caller mutation")
	}
}

func TestMemoryStore_VersionMustAdvance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, testCheckpoint(2, 1)); err != nil {
		t.Fatalf("save: %v", err)
	}

	err := store.Save(ctx, testCheckpoint(2, 1))
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrConflict {
		t.Fatalf("expected a conflict for a stale version, got %v", err)
	}

	if err := store.Save(ctx, testCheckpoint(3, 1)); err != nil {
		t.Fatalf("expected the advancing version accepted: %v", err)
	}
}

func TestMemoryStore_TeachingPositionCannotRegress(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, testCheckpoint(1, 4)); err != nil {
		t.Fatalf("save: %v", err)
	}

	err := store.Save(ctx, testCheckpoint(2, 3))
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrPersistence {
		t.Fatalf("expected a persistence error for the regressed position, got %v", err)
	}

	// The prior checkpoint is still readable after a rejected write.
	cp, loadErr := store.Load(ctx, "sess-1")
	if loadErr != nil || cp.Version != 1 || cp.TeachingPosition != 4 {
		t.Fatalf("expected the prior checkpoint intact, got %+v err=%v", cp, loadErr)
	}
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteThenLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, testCheckpoint(1, 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_ConcludedRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	score := 87
	rec := &types.ConcludedSession{
		SessionID: "sess-1",
		UserID:    "user-1",
		Day:       3,
		Score:     &score,
		EndedAt:   time.Now(),
	}
	if err := store.SaveConcluded(ctx, rec); err != nil {
		t.Fatalf("save concluded: %v", err)
	}

	got, err := store.LoadConcluded(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load concluded: %v", err)
	}
	if got.Score == nil || *got.Score != 87 {
		t.Fatalf("expected score 87, got %+v", got.Score)
	}

	// A forced conclusion records a null score, not a zero.
	if err := store.SaveConcluded(ctx, &types.ConcludedSession{SessionID: "sess-2", UserID: "user-1", Day: 3, EndedAt: time.Now()}); err != nil {
		t.Fatalf("save concluded: %v", err)
	}
	got, err = store.LoadConcluded(ctx, "sess-2")
	if err != nil {
		t.Fatalf("load concluded: %v", err)
	}
	if got.Score != nil {
		t.Fatalf("expected a null score, got %d", *got.Score)
	}

	if _, err := store.LoadConcluded(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
