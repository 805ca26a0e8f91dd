package session

import (
	"sync"
	"testing"
	"time"
)

// fakeNow is an adjustable clock source for deterministic timing tests. It
// is safe for concurrent use since the timer goroutine reads it.
type fakeNow struct {
	mu sync.Mutex
	at time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{at: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	f.at = f.at.Add(d)
	f.mu.Unlock()
}

func TestClock_AccruesWhileRunning(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	if c.Elapsed() != 0 {
		t.Fatal("expected zero elapsed before start")
	}
	c.Start()
	fn.advance(3 * time.Minute)
	if c.Elapsed() != 3*time.Minute {
		t.Fatalf("expected 3m elapsed, got %v", c.Elapsed())
	}
}

func TestClock_PauseFreezesElapsed(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	c.Start()
	fn.advance(10 * time.Minute)
	c.Pause()

	// Wall time during the pause does not accrue.
	fn.advance(2 * time.Hour)
	if c.Elapsed() != 10*time.Minute {
		t.Fatalf("expected elapsed frozen at 10m, got %v", c.Elapsed())
	}
	if c.Running() {
		t.Fatal("expected clock stopped while paused")
	}

	c.Resume()
	fn.advance(5 * time.Minute)
	if c.Elapsed() != 15*time.Minute {
		t.Fatalf("expected 15m after resuming, got %v", c.Elapsed())
	}
}

func TestClock_SetElapsedRestoresCheckpointTime(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	c.SetElapsed(25 * time.Minute)
	if c.Elapsed() != 25*time.Minute {
		t.Fatalf("expected restored elapsed, got %v", c.Elapsed())
	}

	c.Start()
	fn.advance(time.Minute)
	if c.Elapsed() != 26*time.Minute {
		t.Fatalf("expected accrual on top of the restored time, got %v", c.Elapsed())
	}
}

func TestClock_DoubleStartIsNoOp(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	c.Start()
	fn.advance(time.Minute)
	c.Start()
	fn.advance(time.Minute)
	if c.Elapsed() != 2*time.Minute {
		t.Fatalf("expected 2m elapsed, got %v", c.Elapsed())
	}
}
