package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/JeanGrijp/auth-rate-limiter/internal/adapters/http/middleware"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
)

type statusResponse struct {
	Action     string `json:"action"`
	Allowed    bool   `json:"allowed"`
	Remaining  int    `json:"remaining"`
	ResetTime  string `json:"resetTime,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// StatusHandler responde GET /ratelimit/{action} sem consumir tentativas do cliente.
func StatusHandler(limiter ports.RateLimiter, logger hclog.Logger) http.HandlerFunc {
	logger = namedLogger(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		action, ok := actionParam(w, r)
		if !ok {
			return
		}

		ip := middleware.RequestIP(r)
		result, err := limiter.Status(r.Context(), ip, action)
		if err != nil {
			logger.Error("status lookup failed", "action", action, "ip", ip, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
			return
		}

		resp := statusResponse{
			Action:     string(action),
			Allowed:    result.Allowed,
			Remaining:  result.Remaining,
			RetryAfter: result.RetryAfter,
		}
		if !result.ResetTime.IsZero() {
			resp.ResetTime = result.ResetTime.UTC().Format(time.RFC3339)
		}

		middleware.WriteRateLimitHeaders(w, result)
		writeJSON(w, http.StatusOK, resp)
	}
}

// AdminResetHandler responde DELETE /admin/ratelimit/{action}/{identifier}.
// A chave vem da URL, nunca do IP de quem chama: o cliente limitado não pode
// liberar a própria cota. A rota deve ficar atrás de RequireAdminToken.
func AdminResetHandler(limiter ports.RateLimiter, logger hclog.Logger) http.HandlerFunc {
	logger = namedLogger(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		action, ok := actionParam(w, r)
		if !ok {
			return
		}

		identifier := chi.URLParam(r, "identifier")
		if err := limiter.Reset(r.Context(), identifier, action); err != nil {
			logger.Error("reset failed", "action", action, "identifier", identifier, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
			return
		}

		logger.Info("rate limit reset by operator", "action", action, "identifier", identifier, "from", middleware.RequestIP(r))
		w.WriteHeader(http.StatusNoContent)
	}
}

func actionParam(w http.ResponseWriter, r *http.Request) (domain.ActionType, bool) {
	action, err := domain.ParseActionType(chi.URLParam(r, "action"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return "", false
	}
	return action, true
}

func namedLogger(logger hclog.Logger) hclog.Logger {
	if logger == nil {
		return hclog.NewNullLogger()
	}
	return logger.Named("handlers")
}
