// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
)

type RateLimiter interface {
	Check(ctx context.Context, identifier string, action domain.ActionType) (domain.Result, error)
	Status(ctx context.Context, identifier string, action domain.ActionType) (domain.Result, error)
	Reset(ctx context.Context, identifier string, action domain.ActionType) error
	ClearAll(ctx context.Context) error
}

type DecisionRecorder interface {
	RecordDecision(action domain.ActionType, allowed bool)
	RecordSweep(removed int)
}
