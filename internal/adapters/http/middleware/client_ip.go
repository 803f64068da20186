package middleware

import (
	"net"
	"net/http"
	"strings"
)

const unknownClientIP = "unknown"

// ClientIP resolve o IP informado pelos proxies: X-Forwarded-For (primeiro valor),
// depois X-Real-IP e por fim o header Remote-Addr. Sem nenhum deles devolve "unknown".
func ClientIP(header http.Header) string {
	xForwardedFor := strings.TrimSpace(header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		first, _, _ := strings.Cut(xForwardedFor, ",")
		return strings.TrimSpace(first)
	}

	xRealIP := strings.TrimSpace(header.Get("X-Real-IP"))
	if xRealIP != "" {
		return xRealIP
	}

	remoteAddr := strings.TrimSpace(header.Get("Remote-Addr"))
	if remoteAddr != "" {
		return remoteAddr
	}

	return unknownClientIP
}

// RequestIP usa ClientIP e, quando os headers não ajudam, o endereço da conexão.
func RequestIP(r *http.Request) string {
	if ip := ClientIP(r.Header); ip != unknownClientIP {
		return ip
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return unknownClientIP
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
