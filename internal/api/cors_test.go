package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// corsEnvVars lists every env var ConfigurableCORS reads, so tests can
// snapshot and restore the whole set regardless of which ones they touch.
var corsEnvVars = []string{"CORS_ENABLED", "CORS_ALLOW_ORIGIN", "CORS_ALLOW_METHODS", "CORS_ALLOW_HEADERS", "CORS_MAX_AGE"}

// withCORSEnv clears all CORS env vars, applies overrides, runs fn, then
// restores whatever was there before the test started.
func withCORSEnv(t *testing.T, overrides map[string]string, fn func()) {
	t.Helper()
	saved := make(map[string]string, len(corsEnvVars))
	for _, v := range corsEnvVars {
		saved[v] = os.Getenv(v)
		os.Unsetenv(v)
	}
	defer func() {
		for _, v := range corsEnvVars {
			if saved[v] != "" {
				os.Setenv(v, saved[v])
			} else {
				os.Unsetenv(v)
			}
		}
	}()
	for k, v := range overrides {
		os.Setenv(k, v)
	}
	fn()
}

func echoOKHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestConfigurableCORS_Headers(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		header    string
		wantValue string
	}{
		{"default origin", nil, "Access-Control-Allow-Origin", "*"},
		{"default methods", nil, "Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS"},
		{"custom origin from env", map[string]string{"CORS_ALLOW_ORIGIN": "https://example.com"}, "Access-Control-Allow-Origin", "https://example.com"},
		{"custom headers from env", map[string]string{"CORS_ALLOW_HEADERS": "Content-Type, X-Custom-Header"}, "Access-Control-Allow-Headers", "Content-Type, X-Custom-Header"},
		{"disabled omits origin", map[string]string{"CORS_ENABLED": "false"}, "Access-Control-Allow-Origin", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withCORSEnv(t, tc.env, func() {
				handler := ConfigurableCORS(echoOKHandler())
				req := httptest.NewRequest(http.MethodGet, "/test", nil)
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)

				if got := rr.Header().Get(tc.header); got != tc.wantValue {
					t.Errorf("%s = %q, want %q", tc.header, got, tc.wantValue)
				}
			})
		})
	}
}

func TestConfigurableCORS_Preflight(t *testing.T) {
	t.Run("handled when enabled", func(t *testing.T) {
		withCORSEnv(t, nil, func() {
			handler := ConfigurableCORS(echoOKHandler())
			req := httptest.NewRequest(http.MethodOptions, "/test", nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("preflight status = %d, want %d", rr.Code, http.StatusOK)
			}
			if body := rr.Body.String(); body != "" {
				t.Errorf("preflight body = %q, want empty", body)
			}
		})
	})

	t.Run("passed through to next handler when disabled", func(t *testing.T) {
		withCORSEnv(t, map[string]string{"CORS_ENABLED": "false"}, func() {
			handler := ConfigurableCORS(echoOKHandler())
			req := httptest.NewRequest(http.MethodOptions, "/test", nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Body.String() != "OK" {
				t.Errorf("body = %q, want %q", rr.Body.String(), "OK")
			}
		})
	})
}
