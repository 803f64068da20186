package middleware

import (
	"net/http"
	"strconv"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
)

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// RateLimitHeaders monta os headers de resposta; Retry-After só aparece em negações.
// Sem janela ativa (ResetTime zero) o reset é informado como "0".
func RateLimitHeaders(result domain.Result) map[string]string {
	reset := int64(0)
	if !result.ResetTime.IsZero() {
		reset = result.ResetTime.Unix()
	}
	headers := map[string]string{
		HeaderRemaining: strconv.Itoa(result.Remaining),
		HeaderReset:     strconv.FormatInt(reset, 10),
	}
	if result.RetryAfter > 0 {
		headers[HeaderRetryAfter] = strconv.Itoa(result.RetryAfter)
	}
	return headers
}

func WriteRateLimitHeaders(w http.ResponseWriter, result domain.Result) {
	for name, value := range RateLimitHeaders(result) {
		w.Header().Set(name, value)
	}
}
