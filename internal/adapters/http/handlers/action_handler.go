// Package handlers agrupa os handlers HTTP expostos pelo servidor de exemplo.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
)

// ActionHandler representa o endpoint sensível protegido pelo middleware.
// O fluxo real de autenticação fica fora deste serviço.
func ActionHandler(action domain.ActionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"action":  string(action),
			"message": "Request successful",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
