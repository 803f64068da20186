// Package redis disponibiliza a implementação do storage baseada em Redis.
//
// O Redis apenas guarda as entradas (com TTL); a serialização das tentativas de uma
// mesma chave continua sendo feita pelo serviço, dentro de um único processo.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
)

const scanBatch = 100

type Storage struct {
	client redis.UniversalClient
	now    func() time.Time
}

type Option func(*Storage)

// WithClock define o relógio usado no cálculo do TTL; deve ser o mesmo do serviço.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

var _ ports.Storage = (*Storage)(nil)

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config, opts ...Option) (*Storage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, opts...), nil
}

// NewWithClient reaproveita um client já configurado.
func NewWithClient(client redis.UniversalClient, opts ...Option) *Storage {
	s := &Storage{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// record é o formato gravado no Redis, com timestamps em milissegundos.
type record struct {
	Count     int     `json:"count"`
	ResetTime int64   `json:"resetTime"`
	Attempts  []int64 `json:"attempts"`
}

func (s *Storage) Load(ctx context.Context, key string) (domain.Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Entry{}, false, nil
		}
		return domain.Entry{}, false, err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Entry{}, false, fmt.Errorf("decode entry %s: %w", key, err)
	}

	entry := domain.Entry{
		Count:     rec.Count,
		ResetTime: time.UnixMilli(rec.ResetTime),
		Attempts:  make([]time.Time, 0, len(rec.Attempts)),
	}
	for _, ms := range rec.Attempts {
		entry.Attempts = append(entry.Attempts, time.UnixMilli(ms))
	}
	return entry, true, nil
}

func (s *Storage) Save(ctx context.Context, key string, entry domain.Entry) error {
	rec := record{
		Count:     entry.Count,
		ResetTime: entry.ResetTime.UnixMilli(),
		Attempts:  make([]int64, 0, len(entry.Attempts)),
	}
	for _, ts := range entry.Attempts {
		rec.Attempts = append(rec.Attempts, ts.UnixMilli())
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", key, err)
	}

	// Entradas já vencidas ainda são gravadas; o serviço as trata como janela nova.
	ttl := entry.ResetTime.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Clear remove apenas as chaves do rate limiter, preservando o restante do banco.
func (s *Storage) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, domain.KeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Sweep não faz nada: o TTL de cada chave já cuida da expiração.
func (s *Storage) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
