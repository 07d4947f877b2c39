// ABOUTME: HTTP middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Reads the token from the Authorization header or the access_token query parameter

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// AccessTokenParam is the query parameter browsers use to pass a token on
// WebSocket upgrades, where they cannot set headers.
const AccessTokenParam = "access_token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken prefers the Authorization header and falls back to the query.
func requestToken(r *http.Request) (string, string) {
	if h := r.Header.Get("Authorization"); h != "" {
		return extractBearerToken(h)
	}
	if q := r.URL.Query().Get(AccessTokenParam); q != "" {
		return q, ""
	}
	return "", "missing authorization header"
}

func writeAuthError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware creates an HTTP middleware that validates JWT tokens and
// adds the Identity to the request context, the same way the gRPC
// interceptors do.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r)
			if errMsg != "" {
				logHTTPAuthFailure(logger, r, errMsg)
				writeAuthError(w, errMsg, http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				logHTTPAuthFailure(logger, r, "invalid token", "error", err.Error())
				writeAuthError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func logHTTPAuthFailure(logger *slog.Logger, r *http.Request, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	base := []any{"reason", reason, "path", r.URL.Path, "remote_addr", r.RemoteAddr}
	logger.Warn("auth failure", append(base, attrs...)...)
}
