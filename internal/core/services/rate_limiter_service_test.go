package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
)

func TestRateLimiter_FirstAttemptLeavesMaxMinusOne(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for action, rule := range domain.DefaultRules() {
		result, err := service.Check(ctx, "198.51.100.1", action)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", action, err)
		}
		if !result.Allowed {
			t.Fatalf("%s: expected first attempt to be allowed", action)
		}
		if result.Remaining != rule.MaxAttempts-1 {
			t.Fatalf("%s: expected remaining=%d, got %d", action, rule.MaxAttempts-1, result.Remaining)
		}
		if result.RetryAfter != 0 {
			t.Fatalf("%s: expected no retryAfter, got %d", action, result.RetryAfter)
		}
	}
}

func TestRateLimiter_LoginScenario(t *testing.T) {
	service, clock := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for i, want := range []int{4, 3, 2, 1, 0} {
		result, err := service.Check(ctx, "203.0.113.5", domain.ActionLogin)
		if err != nil {
			t.Fatalf("unexpected error at attempt %d: %v", i+1, err)
		}
		if !result.Allowed || result.Remaining != want {
			t.Fatalf("attempt %d: expected allowed with remaining=%d, got %+v", i+1, want, result)
		}
		clock.advance(time.Second)
	}

	result, err := service.Check(ctx, "203.0.113.5", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed || result.Remaining != 0 {
		t.Fatalf("expected sixth attempt to be denied, got %+v", result)
	}
	if result.RetryAfter != 1800 {
		t.Fatalf("expected retryAfter=1800, got %d", result.RetryAfter)
	}
}

func TestRateLimiter_RetryAfterWithinBlockDuration(t *testing.T) {
	ctx := context.Background()

	for action, rule := range domain.DefaultRules() {
		service, clock := newTestLimiter(t, newMockStorage(), Config{})
		for i := 0; i < rule.MaxAttempts; i++ {
			if _, err := service.Check(ctx, "id", action); err != nil {
				t.Fatalf("%s: unexpected error on warmup %d: %v", action, i+1, err)
			}
			clock.advance(1500 * time.Millisecond)
		}

		result, err := service.Check(ctx, "id", action)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", action, err)
		}
		limit := int((rule.BlockDuration + time.Second - 1) / time.Second)
		if result.Allowed || result.RetryAfter <= 0 || result.RetryAfter > limit {
			t.Fatalf("%s: expected denial with 0 < retryAfter <= %d, got %+v", action, limit, result)
		}

		clock.advance(1500 * time.Millisecond)
		again, err := service.Check(ctx, "id", action)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", action, err)
		}
		if again.Allowed || again.RetryAfter <= 0 || again.RetryAfter > limit {
			t.Fatalf("%s: expected blocked call within bounds, got %+v", action, again)
		}
	}
}

func TestRateLimiter_BlockIsStickyBeyondWindow(t *testing.T) {
	storage := newMockStorage()
	service, clock := newTestLimiter(t, storage, Config{})
	ctx := context.Background()
	key := domain.Key(domain.ActionLogin, "10.0.0.1")

	for i := 0; i < 6; i++ {
		if _, err := service.Check(ctx, "10.0.0.1", domain.ActionLogin); err != nil {
			t.Fatalf("unexpected error on attempt %d: %v", i+1, err)
		}
	}
	blockedUntil := storage.entry(key).ResetTime

	// Past the 15 minute window, still inside the 30 minute block.
	clock.advance(20 * time.Minute)
	result, err := service.Check(ctx, "10.0.0.1", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected block to outlive the counting window, got %+v", result)
	}
	if result.RetryAfter != 600 {
		t.Fatalf("expected retryAfter=600, got %d", result.RetryAfter)
	}

	entry := storage.entry(key)
	if entry.Count != 6 || len(entry.Attempts) != 6 {
		t.Fatalf("blocked calls must not be recorded, got count=%d attempts=%d", entry.Count, len(entry.Attempts))
	}
	if !entry.ResetTime.Equal(blockedUntil) {
		t.Fatalf("blocked calls must not move resetTime: %v != %v", entry.ResetTime, blockedUntil)
	}

	clock.advance(10 * time.Minute)
	result, err = service.Check(ctx, "10.0.0.1", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 4 {
		t.Fatalf("expected fresh window after block, got %+v", result)
	}
}

func TestRateLimiter_WindowExpiryStartsFreshWindow(t *testing.T) {
	service, clock := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := service.Check(ctx, "10.0.0.2", domain.ActionRegister); err != nil {
			t.Fatalf("unexpected error on warmup %d: %v", i+1, err)
		}
	}

	clock.advance(time.Hour)
	result, err := service.Check(ctx, "10.0.0.2", domain.ActionRegister)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 2 {
		t.Fatalf("expected fresh window once resetTime passed, got %+v", result)
	}
	if !result.ResetTime.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("expected resetTime one window ahead, got %v", result.ResetTime)
	}
}

func TestRateLimiter_ResetBehavesLikeFreshKey(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = service.Check(ctx, "10.0.0.3", domain.ActionLogin)
	}

	if err := service.Reset(ctx, "10.0.0.3", domain.ActionLogin); err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}

	result, err := service.Check(ctx, "10.0.0.3", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 4 {
		t.Fatalf("expected fresh key after reset, got %+v", result)
	}
}

func TestRateLimiter_StatusDoesNotMutate(t *testing.T) {
	storage := newMockStorage()
	service, _ := newTestLimiter(t, storage, Config{})
	ctx := context.Background()

	fresh, err := service.Status(ctx, "10.0.0.4", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh.Allowed || fresh.Remaining != 5 || !fresh.ResetTime.IsZero() {
		t.Fatalf("expected untouched key to report full quota and no reset time, got %+v", fresh)
	}
	if storage.len() != 0 {
		t.Fatalf("status must not create entries")
	}

	for i := 0; i < 2; i++ {
		_, _ = service.Check(ctx, "10.0.0.4", domain.ActionLogin)
	}

	first, err := service.Status(ctx, "10.0.0.4", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.Status(ctx, "10.0.0.4", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical status results, got %+v and %+v", first, second)
	}
	if first.Remaining != 3 {
		t.Fatalf("expected remaining=3, got %d", first.Remaining)
	}

	next, _ := service.Check(ctx, "10.0.0.4", domain.ActionLogin)
	if next.Remaining != 2 {
		t.Fatalf("status must not consume quota, got remaining=%d", next.Remaining)
	}
}

func TestRateLimiter_StatusStableOnWallClock(t *testing.T) {
	service, err := NewRateLimiterService(newMockStorage(), Config{})
	if err != nil {
		t.Fatalf("failed to create rate limiter service: %v", err)
	}
	ctx := context.Background()

	first, err := service.Status(ctx, "10.0.0.9", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := service.Status(ctx, "10.0.0.9", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical status for an untouched key, got %+v and %+v", first, second)
	}
}

func TestRateLimiter_StatusReportsBlock(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = service.Check(ctx, "10.0.0.5", domain.ActionLogin)
	}

	result, err := service.Status(ctx, "10.0.0.5", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed || result.Remaining != 0 || result.RetryAfter != 1800 {
		t.Fatalf("expected blocked status with retryAfter=1800, got %+v", result)
	}
}

func TestRateLimiter_IdentifiersAreIsolated(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = service.Check(ctx, "attacker", domain.ActionLogin)
	}

	result, err := service.Check(ctx, "bystander", domain.ActionLogin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 4 {
		t.Fatalf("expected other identifier to keep its quota, got %+v", result)
	}

	empty, err := service.Check(ctx, "", domain.ActionLogin)
	if err != nil {
		t.Fatalf("empty identifier must be accepted: %v", err)
	}
	if !empty.Allowed {
		t.Fatalf("expected empty identifier to be allowed")
	}
}

func TestRateLimiter_ActionsAreIsolated(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = service.Check(ctx, "10.0.0.6", domain.ActionRegister)
	}

	for _, action := range []domain.ActionType{domain.ActionLogin, domain.ActionPasswordReset, domain.ActionEmailVerification} {
		rule, _ := service.Rule(action)
		result, err := service.Check(ctx, "10.0.0.6", action)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", action, err)
		}
		if !result.Allowed || result.Remaining != rule.MaxAttempts-1 {
			t.Fatalf("%s: expected independent quota, got %+v", action, result)
		}
	}
}

func TestRateLimiter_UnknownAction(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	if _, err := service.Check(ctx, "x", domain.ActionType("SIGNUP")); !domain.IsUnknownActionError(err) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
	if _, err := service.Status(ctx, "x", domain.ActionType("SIGNUP")); !domain.IsUnknownActionError(err) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
	if err := service.Reset(ctx, "x", domain.ActionType("SIGNUP")); !domain.IsUnknownActionError(err) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestRateLimiter_ClearAll(t *testing.T) {
	storage := newMockStorage()
	service, _ := newTestLimiter(t, storage, Config{})
	ctx := context.Background()

	_, _ = service.Check(ctx, "a", domain.ActionLogin)
	_, _ = service.Check(ctx, "b", domain.ActionRegister)

	if err := service.ClearAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.len() != 0 {
		t.Fatalf("expected empty table, got %d entries", storage.len())
	}
}

func TestRateLimiter_OpportunisticSweep(t *testing.T) {
	storage := newMockStorage()
	recorder := &fakeRecorder{}
	service, clock := newTestLimiter(t, storage, Config{}, WithRecorder(recorder))
	ctx := context.Background()

	_, _ = service.Check(ctx, "stale", domain.ActionLogin)
	clock.advance(16 * time.Minute)
	_, _ = service.Check(ctx, "other", domain.ActionLogin)

	if _, ok := storage.lookup(domain.Key(domain.ActionLogin, "stale")); ok {
		t.Fatalf("expected expired entry to be swept")
	}
	if recorder.swept.Load() != 1 {
		t.Fatalf("expected one swept entry, got %d", recorder.swept.Load())
	}
}

func TestRateLimiter_RecordsDecisions(t *testing.T) {
	recorder := &fakeRecorder{}
	service, _ := newTestLimiter(t, newMockStorage(), Config{}, WithRecorder(recorder))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = service.Check(ctx, "10.0.0.7", domain.ActionRegister)
	}

	if recorder.allowed.Load() != 3 || recorder.denied.Load() != 1 {
		t.Fatalf("expected 3 allowed and 1 denied, got %d/%d", recorder.allowed.Load(), recorder.denied.Load())
	}
}

func TestRateLimiter_ConcurrentChecksRespectLimit(t *testing.T) {
	service, _ := newTestLimiter(t, newMockStorage(), Config{})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := service.Check(ctx, "10.0.0.8", domain.ActionLogin)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 5 {
		t.Fatalf("expected exactly 5 admitted attempts, got %d", allowed.Load())
	}
}

func TestRateLimiter_PropagatesStorageErrors(t *testing.T) {
	storage := newMockStorage()
	storage.failWith = errors.New("connection refused")
	service, _ := newTestLimiter(t, storage, Config{})

	if _, err := service.Check(context.Background(), "x", domain.ActionLogin); !errors.Is(err, storage.failWith) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
}

func TestRateLimiter_RuleOverrides(t *testing.T) {
	override := domain.ActionRule{Window: time.Minute, MaxAttempts: 2, BlockDuration: 5 * time.Minute}
	service, _ := newTestLimiter(t, newMockStorage(), Config{
		Rules: map[domain.ActionType]domain.ActionRule{domain.ActionLogin: override},
	})

	if rule, _ := service.Rule(domain.ActionLogin); rule != override {
		t.Fatalf("expected override to be applied, got %+v", rule)
	}
	if rule, _ := service.Rule(domain.ActionRegister); rule != domain.DefaultRules()[domain.ActionRegister] {
		t.Fatalf("expected default rule for register, got %+v", rule)
	}
}

func TestNewRateLimiterService_Validation(t *testing.T) {
	if _, err := NewRateLimiterService(nil, Config{}); err == nil {
		t.Fatalf("expected error for nil storage")
	}

	_, err := NewRateLimiterService(newMockStorage(), Config{
		Rules: map[domain.ActionType]domain.ActionRule{domain.ActionLogin: {Window: time.Minute}},
	})
	if err == nil {
		t.Fatalf("expected error for invalid rule")
	}

	_, err = NewRateLimiterService(newMockStorage(), Config{
		Rules: map[domain.ActionType]domain.ActionRule{"SIGNUP": {Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Minute}},
	})
	if !domain.IsUnknownActionError(err) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestRateLimiter_StartSweeper(t *testing.T) {
	storage := newMockStorage()
	service, clock := newTestLimiter(t, storage, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = service.Check(context.Background(), "idle", domain.ActionLogin)
	clock.advance(time.Hour)

	service.StartSweeper(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for storage.len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected background sweeper to evict idle entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// newTestLimiter is a helper that fails the test immediately if creation fails.
func newTestLimiter(t *testing.T, storage *mockStorage, cfg Config, opts ...Option) (*RateLimiterService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	service, err := NewRateLimiterService(storage, cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create rate limiter service: %v", err)
	}
	return service, clock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRecorder struct {
	allowed atomic.Int64
	denied  atomic.Int64
	swept   atomic.Int64
}

func (r *fakeRecorder) RecordDecision(_ domain.ActionType, allowed bool) {
	if allowed {
		r.allowed.Add(1)
		return
	}
	r.denied.Add(1)
}

func (r *fakeRecorder) RecordSweep(removed int) {
	r.swept.Add(int64(removed))
}

type mockStorage struct {
	mu       sync.Mutex
	entries  map[string]domain.Entry
	failWith error
}

func newMockStorage() *mockStorage {
	return &mockStorage{entries: make(map[string]domain.Entry)}
}

func (m *mockStorage) Load(_ context.Context, key string) (domain.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return domain.Entry{}, false, m.failWith
	}
	entry, ok := m.entries[key]
	return entry.Clone(), ok, nil
}

func (m *mockStorage) Save(_ context.Context, key string, entry domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry.Clone()
	return nil
}

func (m *mockStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *mockStorage) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]domain.Entry)
	return nil
}

func (m *mockStorage) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.entries {
		if !entry.ResetTime.After(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *mockStorage) entry(key string) domain.Entry {
	entry, _ := m.lookup(key)
	return entry
}

func (m *mockStorage) lookup(key string) (domain.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	return entry, ok
}

func (m *mockStorage) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
