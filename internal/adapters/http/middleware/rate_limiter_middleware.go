// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
)

// NewRateLimiterMiddleware consome uma tentativa de action por requisição, identificada pelo IP do cliente.
func NewRateLimiterMiddleware(limiter ports.RateLimiter, action domain.ActionType, logger hclog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("ratelimit").With("action", action)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := RequestIP(r)

			result, err := limiter.Check(r.Context(), ip, action)
			if err != nil {
				logger.Error("rate limiter failed", "ip", ip, "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			WriteRateLimitHeaders(w, result)

			if !result.Allowed {
				logger.Debug("attempt denied", "ip", ip, "retry_after", result.RetryAfter)
				writeTooManyRequests(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(RetryMessage(retryAfter)))
}

// RetryMessage arredonda a espera para minutos inteiros, nunca abaixo de um.
func RetryMessage(retryAfter int) string {
	minutes := (retryAfter + 59) / 60
	if minutes <= 1 {
		return "too many attempts, please try again in 1 minute"
	}
	return fmt.Sprintf("too many attempts, please try again in %d minutes", minutes)
}
