package handoff

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voxtutor/voxtutor/pkg/core"
)

// Config holds the coordinator's reliability tunables.
type Config struct {
	// ContentTimeout bounds one teaching-content attempt. Default: 10s.
	ContentTimeout time.Duration `json:"content_timeout"`

	// GradingTimeout bounds one grading attempt; code analysis is slower
	// than content generation. Default: 30s.
	GradingTimeout time.Duration `json:"grading_timeout"`

	// MaxRetries is the retry count after the first attempt. Default: 3.
	MaxRetries uint64 `json:"max_retries"`

	// BaseBackoff seeds the exponential backoff. Default: 500ms.
	BaseBackoff time.Duration `json:"base_backoff"`

	// Breaker configures both roles' circuit breakers.
	Breaker BreakerConfig `json:"breaker"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ContentTimeout: 10 * time.Second,
		GradingTimeout: 30 * time.Second,
		MaxRetries:     3,
		BaseBackoff:    500 * time.Millisecond,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Coordinator wraps the teaching and grading roles with per-call timeouts,
// retries with exponential backoff, a per-role circuit breaker, and the
// fallback bank. A degraded provider never aborts a session: exhausted
// calls are answered from the bank.
//
// At most one call per session per role is in flight at a time; a second
// concurrent call fails with a conflict error.
type Coordinator struct {
	provider Provider
	bank     *Bank
	logger   *slog.Logger
	config   Config

	breakers map[Role]*Breaker

	mu       sync.Mutex
	inflight map[string]struct{}

	fallbacksServed atomic.Uint64
}

// NewCoordinator creates a coordinator over the given provider.
func NewCoordinator(provider Provider, config Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ContentTimeout <= 0 {
		config.ContentTimeout = DefaultConfig().ContentTimeout
	}
	if config.GradingTimeout <= 0 {
		config.GradingTimeout = DefaultConfig().GradingTimeout
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultConfig().BaseBackoff
	}
	return &Coordinator{
		provider: provider,
		bank:     NewBank(),
		logger:   logger,
		config:   config,
		breakers: map[Role]*Breaker{
			RoleTeaching: NewBreaker(config.Breaker),
			RoleGrading:  NewBreaker(config.Breaker),
		},
		inflight: make(map[string]struct{}),
	}
}

// Teach invokes the teaching-content role.
func (c *Coordinator) Teach(ctx context.Context, req Request) (*Response, error) {
	return c.call(ctx, RoleTeaching, req)
}

// Grade invokes the grading role.
func (c *Coordinator) Grade(ctx context.Context, req Request) (*Response, error) {
	return c.call(ctx, RoleGrading, req)
}

// BreakerOpen reports whether the given role's circuit is open.
func (c *Coordinator) BreakerOpen(role Role) bool {
	return c.breakers[role].Open()
}

// FallbacksServed returns how many responses came from the bank.
func (c *Coordinator) FallbacksServed() uint64 {
	return c.fallbacksServed.Load()
}

func (c *Coordinator) call(ctx context.Context, role Role, req Request) (*Response, error) {
	key := req.SessionID + "/" + string(role)
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return nil, core.NewConflictError("a " + string(role) + " call is already in flight for this session")
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	breaker := c.breakers[role]
	if !breaker.Allow() {
		c.logger.Warn("circuit open, serving fallback",
			"session_id", req.SessionID, "role", role, "kind", req.Kind)
		return c.fallback(role, req), nil
	}

	timeout := c.config.ContentTimeout
	if role == RoleGrading {
		timeout = c.config.GradingTimeout
	}

	var resp *Response
	backoff := retry.WithMaxRetries(c.config.MaxRetries, retry.NewExponential(c.config.BaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var attemptErr error
		switch role {
		case RoleGrading:
			resp, attemptErr = c.provider.Grade(attemptCtx, req)
		default:
			resp, attemptErr = c.provider.Generate(attemptCtx, req)
		}
		if attemptErr == nil {
			return nil
		}
		// Validation failures will not improve on retry.
		var coreErr *core.Error
		if errors.As(attemptErr, &coreErr) && coreErr.Type == core.ErrValidation {
			return attemptErr
		}
		return retry.RetryableError(attemptErr)
	})
	if err == nil {
		breaker.RecordSuccess()
		return resp, nil
	}

	breaker.RecordFailure()
	typed := classify(role, err)
	c.logger.Error("coordinator call exhausted retries, serving fallback",
		"session_id", req.SessionID, "role", role, "kind", req.Kind,
		"error", typed, "breaker_open", breaker.Open())
	return c.fallback(role, req), nil
}

func (c *Coordinator) fallback(role Role, req Request) *Response {
	c.fallbacksServed.Add(1)
	if role == RoleGrading {
		return c.bank.Grade(req)
	}
	return c.bank.Generate(req)
}

func classify(role Role, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewCoordinatorTimeoutError(string(role), err)
	}
	unavailable := core.NewCoordinatorUnavailableError(string(role))
	unavailable.Cause = err
	return unavailable
}
