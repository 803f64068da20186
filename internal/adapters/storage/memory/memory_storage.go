// Package memory disponibiliza o storage em memória, restrito a um único processo.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
)

type Storage struct {
	mu      sync.Mutex
	entries map[string]domain.Entry
}

var _ ports.Storage = (*Storage)(nil)

func New() *Storage {
	return &Storage{entries: make(map[string]domain.Entry)}
}

func (s *Storage) Load(_ context.Context, key string) (domain.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return domain.Entry{}, false, nil
	}
	return entry.Clone(), true, nil
}

func (s *Storage) Save(_ context.Context, key string, entry domain.Entry) error {
	s.mu.Lock()
	s.entries[key] = entry.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]domain.Entry)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !entry.ResetTime.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len informa quantas chaves estão retidas.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
