package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/relaycore/dispatch-proxy/internal/config"
)

// credentialSource pulls a bearer credential out of a request. ok is false
// when the source found nothing to say about; malformed is true only when
// the source recognizes its header but can't parse a credential from it.
type credentialSource func(r *http.Request) (value string, ok bool, malformed bool)

// credentialSources are tried in order; the first source that recognizes the
// request (ok or malformed) wins, mirroring Anthropic's header precedence.
var credentialSources = []credentialSource{
	func(r *http.Request) (string, bool, bool) {
		if key := r.Header.Get("x-api-key"); key != "" {
			return key, true, false
		}
		return "", false, false
	},
	func(r *http.Request) (string, bool, bool) {
		header := r.Header.Get("Authorization")
		if header == "" {
			return "", false, false
		}
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return "", false, true
		}
		return strings.TrimPrefix(header, prefix), true, false
	},
}

// exemptPaths bypass authentication entirely regardless of configuration.
var exemptPaths = map[string]bool{
	"/health": true,
}

// APIKeyAuth gates every route behind a single shared secret (PROXY_API_KEY).
// Accepted forms:
//   - x-api-key: <key>
//   - Authorization: Bearer <key>
//
// exemptPaths bypass the check. A server with no PROXY_API_KEY configured is
// misconfigured, not open: requests still fail, but with 500 instead of 401,
// so the distinction between "wrong key" and "no key set up" is visible in
// the response rather than silently granting access.
func APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		expected := config.GetProxyAPIKey()
		if expected == "" {
			respondAuthJSON(w, http.StatusInternalServerError, "api_error", "Server misconfigured: PROXY_API_KEY not set")
			return
		}

		var presented string
		for _, source := range credentialSources {
			value, ok, malformed := source(r)
			if malformed {
				respondAuthJSON(w, http.StatusUnauthorized, "authentication_error", "Invalid Authorization header format")
				return
			}
			if ok {
				presented = value
				break
			}
		}

		if presented == "" {
			respondAuthJSON(w, http.StatusUnauthorized, "authentication_error", "Missing API key")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			respondAuthJSON(w, http.StatusUnauthorized, "authentication_error", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authErrorResponse represents an Anthropic-compatible error envelope.
type authErrorResponse struct {
	Type  string          `json:"type"`
	Error authErrorDetail `json:"error"`
}

type authErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// respondAuthJSON writes an Anthropic-shaped error envelope for both the
// unauthenticated (401) and misconfigured-server (500) cases.
func respondAuthJSON(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authErrorResponse{
		Type: "error",
		Error: authErrorDetail{
			Type:    errType,
			Message: message,
		},
	})
}
