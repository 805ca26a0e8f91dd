package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// mockProvider scripts the provider for coordinator tests.
type mockProvider struct {
	mu      sync.Mutex
	calls   int
	err     error
	resp    *Response
	blockOn chan struct{}
}

func (m *mockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return m.serve(ctx, req)
}

func (m *mockProvider) Grade(ctx context.Context, req Request) (*Response, error) {
	return m.serve(ctx, req)
}

func (m *mockProvider) serve(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	resp := m.resp
	block := m.blockOn
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &Response{Content: "ok"}
	}
	return resp, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fastConfig() Config {
	return Config{
		ContentTimeout: 200 * time.Millisecond,
		GradingTimeout: 200 * time.Millisecond,
		MaxRetries:     2,
		BaseBackoff:    time.Millisecond,
		Breaker:        BreakerConfig{Threshold: 3, Cooldown: time.Minute},
	}
}

func testModule() *types.DailyModule {
	return &types.DailyModule{
		Day:       1,
		Topics:    []string{"goroutines"},
		Concepts:  []string{"channel", "select"},
		Questions: []string{"What is a channel?", "When do you use select?"},
	}
}

func TestCoordinator_ServesProviderResponse(t *testing.T) {
	provider := &mockProvider{resp: &Response{Content: "segment one"}}
	c := NewCoordinator(provider, fastConfig(), nil)

	resp, err := c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindSegment, Module: testModule()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Fallback || resp.Content != "segment one" {
		t.Fatalf("expected the provider's response, got %+v", resp)
	}
}

func TestCoordinator_ExhaustedRetriesServeFallback(t *testing.T) {
	provider := &mockProvider{err: errors.New("upstream down")}
	c := NewCoordinator(provider, fastConfig(), nil)

	resp, err := c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindSegment, Module: testModule()})
	if err != nil {
		t.Fatalf("expected a degraded response, not an error: %v", err)
	}
	if !resp.Fallback {
		t.Fatal("expected fallback content after retries were exhausted")
	}
	// First attempt plus two retries.
	if got := provider.callCount(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if c.FallbacksServed() != 1 {
		t.Fatalf("expected 1 fallback served, got %d", c.FallbacksServed())
	}
}

func TestCoordinator_ValidationErrorsAreNotRetried(t *testing.T) {
	provider := &mockProvider{err: core.NewValidationError("bad request")}
	c := NewCoordinator(provider, fastConfig(), nil)

	resp, err := c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindSegment, Module: testModule()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Fallback {
		t.Fatal("expected fallback after the non-retryable failure")
	}
	if got := provider.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", got)
	}
}

func TestCoordinator_BreakerOpensAndSkipsProvider(t *testing.T) {
	provider := &mockProvider{err: errors.New("upstream down")}
	c := NewCoordinator(provider, fastConfig(), nil)

	for i := 0; i < 3; i++ {
		_, _ = c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindSegment, Module: testModule()})
	}
	if !c.BreakerOpen(RoleTeaching) {
		t.Fatal("expected the teaching circuit open after three exhausted calls")
	}

	before := provider.callCount()
	resp, err := c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindSegment, Module: testModule()})
	if err != nil || !resp.Fallback {
		t.Fatalf("expected fallback while open, got resp=%+v err=%v", resp, err)
	}
	if provider.callCount() != before {
		t.Fatal("expected no provider call while the circuit is open")
	}

	// The grading circuit is independent.
	if c.BreakerOpen(RoleGrading) {
		t.Fatal("expected the grading circuit to stay closed")
	}
}

func TestCoordinator_SingleFlightPerSessionPerRole(t *testing.T) {
	block := make(chan struct{})
	provider := &mockProvider{blockOn: block}
	c := NewCoordinator(provider, fastConfig(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindSegment, Module: testModule()})
	}()

	waitForCalls(t, provider, 1)

	_, err := c.Teach(context.Background(), Request{SessionID: "s1", Kind: KindReply, Module: testModule()})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrConflict {
		t.Fatalf("expected a conflict for the concurrent teaching call, got %v", err)
	}

	// The grading role has its own slot and is unaffected.
	var gradeErr atomic.Value
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Grade(context.Background(), Request{SessionID: "s1", Kind: KindGradeAnswer, Module: testModule(), Input: "channel"})
		if err != nil {
			gradeErr.Store(err)
		}
	}()
	waitForCalls(t, provider, 2)

	close(block)
	wg.Wait()
	if v := gradeErr.Load(); v != nil {
		t.Fatalf("expected the grading call to proceed, got %v", v)
	}
}

func waitForCalls(t *testing.T, provider *mockProvider, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if provider.callCount() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("provider never reached %d calls", n)
}

func TestBank_VivaQuestionsAlwaysThree(t *testing.T) {
	bank := NewBank()

	resp := bank.Grade(Request{Kind: KindVivaQuestions, Module: testModule()})
	if len(resp.Questions) != types.VivaCount {
		t.Fatalf("expected %d questions, got %d", types.VivaCount, len(resp.Questions))
	}
	// The module's own questions come first.
	if resp.Questions[0] != "What is a channel?" {
		t.Fatalf("expected module questions first, got %q", resp.Questions[0])
	}

	resp = bank.Grade(Request{Kind: KindVivaQuestions})
	if len(resp.Questions) != types.VivaCount {
		t.Fatalf("expected %d generic questions with no module, got %d", types.VivaCount, len(resp.Questions))
	}
}

func TestBank_HeuristicScoreRewardsConceptOverlap(t *testing.T) {
	bank := NewBank()
	module := testModule()

	resp := bank.Grade(Request{Kind: KindGradeAnswer, Module: module, Input: ""})
	if *resp.Score != 0 {
		t.Fatalf("expected 0 for an empty answer, got %d", *resp.Score)
	}

	resp = bank.Grade(Request{Kind: KindGradeAnswer, Module: module, Input: "a channel synchronizes goroutines and select waits on many"})
	if *resp.Score != 100 {
		t.Fatalf("expected 100 for full concept coverage, got %d", *resp.Score)
	}

	resp = bank.Grade(Request{Kind: KindGradeAnswer, Module: module, Input: "you use a channel"})
	if *resp.Score != 70 {
		t.Fatalf("expected 70 for half coverage, got %d", *resp.Score)
	}
}
