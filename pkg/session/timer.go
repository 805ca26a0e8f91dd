package session

import (
	"context"
	"sync"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// TimerConfig holds the elapsed-time thresholds for the phase timer.
type TimerConfig struct {
	// WrapUpAfter is the elapsed time at which wrap-up begins. Default: 40m.
	WrapUpAfter time.Duration `json:"wrap_up_after"`

	// ConcludeAfter is the hard session bound. Default: 50m.
	ConcludeAfter time.Duration `json:"conclude_after"`

	// Tick is how often elapsed time is checked. Default: 1s.
	Tick time.Duration `json:"tick"`
}

// DefaultTimerConfig returns the standard 40/50 minute thresholds.
func DefaultTimerConfig() TimerConfig {
	return TimerConfig{
		WrapUpAfter:   40 * time.Minute,
		ConcludeAfter: 50 * time.Minute,
		Tick:          time.Second,
	}
}

// PhaseTimer watches a session clock and emits a PhaseTransitionEvent when
// elapsed time crosses a threshold. Each threshold fires at most once per
// session, including across pause and resume.
type PhaseTimer struct {
	config TimerConfig
	clock  *Clock
	emit   func(types.PhaseTransitionEvent)
	now    func() time.Time

	mu    sync.Mutex
	fired map[types.PhaseThreshold]bool
}

// NewPhaseTimer creates a timer over the given clock. emit is called from
// the timer goroutine and must not block for long.
func NewPhaseTimer(config TimerConfig, clock *Clock, emit func(types.PhaseTransitionEvent), now func() time.Time) *PhaseTimer {
	def := DefaultTimerConfig()
	if config.WrapUpAfter <= 0 {
		config.WrapUpAfter = def.WrapUpAfter
	}
	if config.ConcludeAfter <= 0 {
		config.ConcludeAfter = def.ConcludeAfter
	}
	if config.Tick <= 0 {
		config.Tick = def.Tick
	}
	if now == nil {
		now = time.Now
	}
	return &PhaseTimer{
		config: config,
		clock:  clock,
		emit:   emit,
		now:    now,
		fired:  make(map[types.PhaseThreshold]bool),
	}
}

// MarkFired suppresses a threshold, used when restoring a session whose
// elapsed time already crossed it before the snapshot.
func (t *PhaseTimer) MarkFired(threshold types.PhaseThreshold) {
	t.mu.Lock()
	t.fired[threshold] = true
	t.mu.Unlock()
}

// Run checks thresholds on every tick until ctx is canceled.
func (t *PhaseTimer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check()
		}
	}
}

// Check fires any thresholds the clock has crossed. Exposed so tests can
// drive the timer with a fake clock instead of waiting on ticks.
func (t *PhaseTimer) Check() {
	elapsed := t.clock.Elapsed()
	t.check(types.ThresholdWrapUp, t.config.WrapUpAfter, elapsed)
	t.check(types.ThresholdConclude, t.config.ConcludeAfter, elapsed)
}

func (t *PhaseTimer) check(threshold types.PhaseThreshold, after time.Duration, elapsed time.Duration) {
	if elapsed < after {
		return
	}
	t.mu.Lock()
	if t.fired[threshold] {
		t.mu.Unlock()
		return
	}
	t.fired[threshold] = true
	t.mu.Unlock()

	t.emit(types.PhaseTransitionEvent{
		Threshold: threshold,
		ElapsedMS: elapsed.Milliseconds(),
		At:        t.now(),
	})
}
