// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
)

// Storage persiste entradas por chave. Não precisa ser atômico entre chamadas:
// o serviço serializa o read-modify-write de uma mesma chave.
type Storage interface {
	Load(ctx context.Context, key string) (domain.Entry, bool, error)
	Save(ctx context.Context, key string, entry domain.Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Sweep remove entradas com ResetTime <= now e devolve quantas removeu.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
