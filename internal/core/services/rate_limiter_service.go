package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
)

// lockBuckets limita a memória dos mutexes: chaves diferentes podem dividir um bucket,
// mas a mesma chave sempre cai no mesmo.
const lockBuckets = 256

// Config agrega os limites utilizados pelo serviço de rate limiting.
// Ações ausentes em Rules usam domain.DefaultRules.
type Config struct {
	Rules map[domain.ActionType]domain.ActionRule
}

type Option func(*RateLimiterService)

// WithClock substitui time.Now, usado nos testes para controlar janelas e bloqueios.
func WithClock(now func() time.Time) Option {
	return func(s *RateLimiterService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRecorder(recorder ports.DecisionRecorder) Option {
	return func(s *RateLimiterService) {
		s.recorder = recorder
	}
}

// RateLimiterService implementa a lógica central de rate limiting.
//
// O read-modify-write de uma chave é serializado apenas dentro do processo;
// duas instâncias apontando para o mesmo Redis não se coordenam.
type RateLimiterService struct {
	storage  ports.Storage
	rules    map[domain.ActionType]domain.ActionRule
	now      func() time.Time
	recorder ports.DecisionRecorder
	locks    [lockBuckets]sync.Mutex
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

// NewRateLimiterService cria uma nova instância do serviço.
func NewRateLimiterService(storage ports.Storage, cfg Config, opts ...Option) (*RateLimiterService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	rules := domain.DefaultRules()
	for action, rule := range cfg.Rules {
		if _, err := domain.ParseActionType(string(action)); err != nil {
			return nil, err
		}
		rules[action] = rule
	}
	for action, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("action %s: %w", action, err)
		}
	}

	s := &RateLimiterService{storage: storage, rules: rules, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Rule devolve a regra efetiva de uma ação.
func (s *RateLimiterService) Rule(action domain.ActionType) (domain.ActionRule, error) {
	rule, ok := s.rules[action]
	if !ok {
		return domain.ActionRule{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
	}
	return rule, nil
}

// Check registra uma tentativa e decide se ela pode prosseguir.
func (s *RateLimiterService) Check(ctx context.Context, identifier string, action domain.ActionType) (domain.Result, error) {
	rule, err := s.Rule(action)
	if err != nil {
		return domain.Result{}, err
	}

	key := domain.Key(action, identifier)
	now := s.now()

	mu := s.lockFor(key)
	mu.Lock()
	result, err := s.check(ctx, key, rule, now)
	mu.Unlock()
	if err != nil {
		return domain.Result{}, err
	}

	if s.recorder != nil {
		s.recorder.RecordDecision(action, result.Allowed)
	}
	s.sweep(ctx, now)

	return result, nil
}

func (s *RateLimiterService) check(ctx context.Context, key string, rule domain.ActionRule, now time.Time) (domain.Result, error) {
	entry, found, err := s.storage.Load(ctx, key)
	if err != nil {
		return domain.Result{}, fmt.Errorf("load rate limit entry: %w", err)
	}

	if !found || !entry.ResetTime.After(now) {
		entry = domain.Entry{
			Count:     1,
			ResetTime: now.Add(rule.Window),
			Attempts:  []time.Time{now},
		}
		if err := s.storage.Save(ctx, key, entry); err != nil {
			return domain.Result{}, fmt.Errorf("save rate limit entry: %w", err)
		}
		return domain.Result{Allowed: true, Remaining: rule.MaxAttempts - 1, ResetTime: entry.ResetTime}, nil
	}

	// Bloqueado: a chamada não conta como tentativa.
	if entry.Count > rule.MaxAttempts {
		return denied(entry.ResetTime, now), nil
	}

	entry.Attempts = pruneAttempts(append(entry.Attempts, now), now.Add(-rule.Window))
	entry.Count = len(entry.Attempts)

	if entry.Count > rule.MaxAttempts {
		// A partir daqui o bloqueio é fixo, não desliza com a janela.
		entry.ResetTime = now.Add(rule.BlockDuration)
		if err := s.storage.Save(ctx, key, entry); err != nil {
			return domain.Result{}, fmt.Errorf("save rate limit entry: %w", err)
		}
		return denied(entry.ResetTime, now), nil
	}

	if err := s.storage.Save(ctx, key, entry); err != nil {
		return domain.Result{}, fmt.Errorf("save rate limit entry: %w", err)
	}

	return domain.Result{
		Allowed:   true,
		Remaining: max(0, rule.MaxAttempts-entry.Count),
		ResetTime: entry.ResetTime,
	}, nil
}

// Status devolve o mesmo formato de Check sem registrar tentativa nem alterar o storage.
func (s *RateLimiterService) Status(ctx context.Context, identifier string, action domain.ActionType) (domain.Result, error) {
	rule, err := s.Rule(action)
	if err != nil {
		return domain.Result{}, err
	}

	key := domain.Key(action, identifier)
	now := s.now()

	mu := s.lockFor(key)
	mu.Lock()
	entry, found, err := s.storage.Load(ctx, key)
	mu.Unlock()
	if err != nil {
		return domain.Result{}, fmt.Errorf("load rate limit entry: %w", err)
	}

	// Sem janela ativa não há instante de reset; ResetTime zero mantém a consulta idempotente.
	if !found || !entry.ResetTime.After(now) {
		return domain.Result{Allowed: true, Remaining: rule.MaxAttempts}, nil
	}

	if entry.Count > rule.MaxAttempts {
		return denied(entry.ResetTime, now), nil
	}

	count := countSince(entry.Attempts, now.Add(-rule.Window))
	if count >= rule.MaxAttempts {
		return denied(entry.ResetTime, now), nil
	}

	return domain.Result{Allowed: true, Remaining: rule.MaxAttempts - count, ResetTime: entry.ResetTime}, nil
}

// Reset apaga a entrada da chave; a próxima tentativa abre uma janela nova.
func (s *RateLimiterService) Reset(ctx context.Context, identifier string, action domain.ActionType) error {
	if _, err := s.Rule(action); err != nil {
		return err
	}

	key := domain.Key(action, identifier)
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete rate limit entry: %w", err)
	}
	return nil
}

func (s *RateLimiterService) ClearAll(ctx context.Context) error {
	if err := s.storage.Clear(ctx); err != nil {
		return fmt.Errorf("clear rate limits: %w", err)
	}
	return nil
}

// StartSweeper remove entradas expiradas periodicamente até o contexto ser cancelado.
// É opcional: Check já faz uma varredura oportunista a cada chamada.
func (s *RateLimiterService) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx, s.now())
			}
		}
	}()
}

// sweep é best-effort; falhas são ignoradas e a limpeza acontece na próxima chamada.
func (s *RateLimiterService) sweep(ctx context.Context, now time.Time) {
	removed, err := s.storage.Sweep(ctx, now)
	if err != nil || removed == 0 {
		return
	}
	if s.recorder != nil {
		s.recorder.RecordSweep(removed)
	}
}

func (s *RateLimiterService) lockFor(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%lockBuckets]
}

func denied(resetTime, now time.Time) domain.Result {
	return domain.Result{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  resetTime,
		RetryAfter: retryAfterSeconds(resetTime, now),
	}
}

func retryAfterSeconds(resetTime, now time.Time) int {
	wait := resetTime.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

// pruneAttempts descarta, no próprio slice, tentativas fora da janela.
func pruneAttempts(attempts []time.Time, cutoff time.Time) []time.Time {
	kept := attempts[:0]
	for _, ts := range attempts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func countSince(attempts []time.Time, cutoff time.Time) int {
	count := 0
	for _, ts := range attempts {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
