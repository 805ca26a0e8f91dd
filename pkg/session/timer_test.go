package session

import (
	"testing"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

func TestPhaseTimer_FiresEachThresholdOnce(t *testing.T) {
	fn := newFakeNow()
	clock := NewClock(fn.now)
	var events []types.PhaseTransitionEvent
	timer := NewPhaseTimer(DefaultTimerConfig(), clock, func(ev types.PhaseTransitionEvent) {
		events = append(events, ev)
	}, fn.now)

	clock.Start()
	timer.Check()
	if len(events) != 0 {
		t.Fatalf("expected no events at start, got %v", events)
	}

	fn.advance(40 * time.Minute)
	timer.Check()
	timer.Check()
	if len(events) != 1 || events[0].Threshold != types.ThresholdWrapUp {
		t.Fatalf("expected one wrap-up event, got %v", events)
	}
	if events[0].ElapsedMS != (40 * time.Minute).Milliseconds() {
		t.Fatalf("expected elapsed 40m on the event, got %dms", events[0].ElapsedMS)
	}

	fn.advance(10 * time.Minute)
	timer.Check()
	timer.Check()
	if len(events) != 2 || events[1].Threshold != types.ThresholdConclude {
		t.Fatalf("expected the conclude event exactly once, got %v", events)
	}
}

func TestPhaseTimer_PausedClockNeverFires(t *testing.T) {
	fn := newFakeNow()
	clock := NewClock(fn.now)
	var fired int
	timer := NewPhaseTimer(DefaultTimerConfig(), clock, func(types.PhaseTransitionEvent) { fired++ }, fn.now)

	clock.Start()
	fn.advance(30 * time.Minute)
	clock.Pause()

	// Hours of wall time pass while paused; elapsed stays at 30m.
	fn.advance(3 * time.Hour)
	timer.Check()
	if fired != 0 {
		t.Fatalf("expected no events while paused under the threshold, got %d", fired)
	}
}

func TestPhaseTimer_MarkFiredSuppressesRestoredThresholds(t *testing.T) {
	fn := newFakeNow()
	clock := NewClock(fn.now)
	var events []types.PhaseTransitionEvent
	timer := NewPhaseTimer(DefaultTimerConfig(), clock, func(ev types.PhaseTransitionEvent) {
		events = append(events, ev)
	}, fn.now)

	// A restored session already past wrap-up must not re-fire it.
	clock.SetElapsed(42 * time.Minute)
	timer.MarkFired(types.ThresholdWrapUp)
	clock.Start()

	timer.Check()
	if len(events) != 0 {
		t.Fatalf("expected the restored threshold suppressed, got %v", events)
	}

	fn.advance(8 * time.Minute)
	timer.Check()
	if len(events) != 1 || events[0].Threshold != types.ThresholdConclude {
		t.Fatalf("expected only the conclude event, got %v", events)
	}
}
