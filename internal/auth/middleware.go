// Package auth provides HTTP middleware for bearer token authentication of
// the MCP endpoint.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// NewAuthMiddleware returns an HTTP middleware that enforces bearer token
// authentication. If the configured token is empty, authentication is disabled
// and all requests pass through to the next handler unconditionally.
//
// When enabled, the request must carry exactly
//
//	Authorization: Bearer <token>
//
// with a case-sensitive prefix and a single space. Anything else gets a 401
// and the next handler is never called. Rejections are logged at warn.
func NewAuthMiddleware(token string, logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "auth").Logger()
	want := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			provided, ok := strings.CutPrefix(header, prefix)
			if !ok || provided == "" || subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
				logger.Warn().
					Str("remote", r.RemoteAddr).
					Str("path", r.URL.Path).
					Bool("header_present", header != "").
					Msg("Rejected unauthenticated request")
				w.Header().Set("WWW-Authenticate", `Bearer realm="netio-mcp"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
