package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// tokenMatch performs a constant-time comparison of a provided token
// against the expected token. Returns true if expected is empty (no
// auth configured) or if the tokens match exactly.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// requireAuth wraps next with bearer-token auth for the authenticated
// task endpoints. Returns 401 when the token is missing or wrong.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.authToken) {
			writeJSON(w, http.StatusUnauthorized, map[string]errorBody{
				"error": {Kind: "auth", Message: "missing or invalid bearer token"},
			})
			return
		}
		next(w, r)
	}
}

// requireLoopback wraps next so only requests originating from the
// local host are accepted (scheduler_tick). Returns 403 otherwise.
func requireLoopback(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r) {
			writeJSON(w, http.StatusForbidden, map[string]errorBody{
				"error": {Kind: "auth", Message: "scheduler_tick is loopback-only"},
			})
			return
		}
		next(w, r)
	}
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
