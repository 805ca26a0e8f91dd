package handoff

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	if b.Open() {
		t.Fatal("expected circuit closed below the threshold")
	}
	b.RecordFailure()
	if !b.Open() {
		t.Fatal("expected circuit open at three consecutive failures")
	}
	if b.Allow() {
		t.Fatal("expected calls blocked while open")
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.Open() {
		t.Fatal("expected non-consecutive failures not to open the circuit")
	}
}

func TestBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected calls blocked while open")
	}

	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("expected one probe allowed after the cooldown")
	}

	// A failing probe re-opens immediately.
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected circuit re-opened by a failing probe")
	}

	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("expected another probe after the second cooldown")
	}
	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("expected circuit closed after a successful probe")
	}
}
