package api

import (
	"net/http"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/config"
	"github.com/relaycore/dispatch-proxy/internal/utils"
)

// ConfigurableCORS adds CORS headers driven by CORS_ENABLED, CORS_ALLOW_ORIGIN,
// CORS_ALLOW_METHODS, CORS_ALLOW_HEADERS and CORS_MAX_AGE.
//
// The default CORS_ALLOW_ORIGIN is "*", which suits a proxy running on a
// developer's own machine; operators exposing it beyond localhost should
// pin it to specific origins.
func ConfigurableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cors := config.GetCORSConfig()
		if !cors.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		for name, value := range map[string]string{
			"Access-Control-Allow-Origin":  cors.AllowOrigin,
			"Access-Control-Allow-Methods": cors.AllowMethods,
			"Access-Control-Allow-Headers": cors.AllowHeaders,
			"Access-Control-Max-Age":       cors.MaxAge,
		} {
			headers.Set(name, value)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logger records method, path, remote address, status and duration for every
// request, using utils' colored logger. /health is quiet unless debug logging
// is on, since a healthy proxy polled every few seconds would otherwise drown
// out everything else.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		if r.URL.Path == "/health" && !utils.IsDebugEnabled() {
			return
		}

		utils.Info("[%s] %s %s %d %s",
			r.Method,
			r.URL.Path,
			r.RemoteAddr,
			sr.status,
			utils.FormatDuration(time.Since(start)))
	})
}

// Recovery turns a panic anywhere downstream into a 500 instead of a dropped
// connection, logging the panic value so it isn't silently swallowed.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				utils.Error("[Panic] %v", v)
				http.Error(w, `{"type":"error","error":{"type":"api_error","message":"Internal server error"}}`, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code an inner handler wrote, since
// http.ResponseWriter otherwise throws it away once it hits the wire.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
