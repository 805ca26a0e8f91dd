package handoff

import (
	"sync"
	"time"
)

// BreakerConfig configures one role's circuit breaker.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	// Default: 3.
	Threshold int `json:"threshold"`

	// Cooldown is how long the circuit stays open before a probe call is
	// allowed. Default: 30s.
	Cooldown time.Duration `json:"cooldown"`
}

// DefaultBreakerConfig returns a BreakerConfig with sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. While open, calls are
// answered from the fallback bank instead of the provider.
type Breaker struct {
	config BreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	consecutive int
	openUntil   time.Time
}

// NewBreaker creates a breaker with the given configuration.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = DefaultBreakerConfig().Threshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{config: config, now: time.Now}
}

// Allow reports whether a provider call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.now().After(b.openUntil) {
		// Half-open: let one probe through. A failure re-opens immediately
		// because consecutive is still at threshold.
		b.openUntil = time.Time{}
		return true
	}
	return false
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.config.Threshold {
		b.openUntil = b.now().Add(b.config.Cooldown)
	}
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.now().Before(b.openUntil)
}
