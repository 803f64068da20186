// Package domain concentra entidades e estruturas centrais do rate limiter.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionType identifica uma categoria de ação sensível com cota própria.
type ActionType string

const (
	ActionLogin             ActionType = "LOGIN"
	ActionRegister          ActionType = "REGISTER"
	ActionPasswordReset     ActionType = "PASSWORD_RESET"
	ActionEmailVerification ActionType = "EMAIL_VERIFICATION"
)

// Actions lista as ações conhecidas na ordem em que são documentadas.
func Actions() []ActionType {
	return []ActionType{ActionLogin, ActionRegister, ActionPasswordReset, ActionEmailVerification}
}

func (a ActionType) String() string { return string(a) }

// ParseActionType aceita o nome canônico sem diferenciar maiúsculas; "-" equivale a "_".
func ParseActionType(raw string) (ActionType, error) {
	candidate := ActionType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	for _, action := range Actions() {
		if action == candidate {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
}

type ActionRule struct {
	Window        time.Duration
	MaxAttempts   int
	BlockDuration time.Duration
}

func (r ActionRule) Validate() error {
	if r.Window <= 0 || r.MaxAttempts <= 0 || r.BlockDuration <= 0 {
		return fmt.Errorf("rule must have positive values: %+v", r)
	}
	return nil
}

// DefaultRules devolve uma cópia nova da tabela padrão de limites.
func DefaultRules() map[ActionType]ActionRule {
	return map[ActionType]ActionRule{
		ActionLogin:             {Window: 15 * time.Minute, MaxAttempts: 5, BlockDuration: 30 * time.Minute},
		ActionRegister:          {Window: time.Hour, MaxAttempts: 3, BlockDuration: time.Hour},
		ActionPasswordReset:     {Window: time.Hour, MaxAttempts: 3, BlockDuration: time.Hour},
		ActionEmailVerification: {Window: time.Hour, MaxAttempts: 5, BlockDuration: 30 * time.Minute},
	}
}

// Entry guarda as tentativas de uma chave (ação, identificador).
// Count == len(Attempts) após cada recálculo.
type Entry struct {
	Count     int
	ResetTime time.Time
	Attempts  []time.Time
}

// Clone evita que chamadores compartilhem o slice de tentativas com o storage.
func (e Entry) Clone() Entry {
	attempts := make([]time.Time, len(e.Attempts))
	copy(attempts, e.Attempts)
	e.Attempts = attempts
	return e
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	// RetryAfter em segundos; zero quando a tentativa foi permitida.
	RetryAfter int
}

const KeyPrefix = "ratelimit:"

func Key(action ActionType, identifier string) string {
	return KeyPrefix + string(action) + ":" + identifier
}
