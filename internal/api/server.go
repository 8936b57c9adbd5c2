// Package api provides HTTP server components for the proxy.
package api

import (
	"net/http"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/catalog"
	"github.com/relaycore/dispatch-proxy/internal/dispatch"
)

// Server holds the HTTP server dependencies: the dispatch engine that walks
// resolved entries against provider adapters, the account store it reads
// routing candidates from, and the static catalog both consult.
type Server struct {
	engine   *dispatch.Engine
	accounts *accountstore.Store
	source   *accountSource
	catalog  catalog.Static
}

// NewServer creates a new API server over the given dispatch engine and
// account store.
func NewServer(engine *dispatch.Engine, accounts *accountstore.Store) *Server {
	return &Server{
		engine:   engine,
		accounts: accounts,
		source:   newAccountSource(accounts),
	}
}

// Handler returns the main HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/", s.handleNotFound)

	// Apply middleware (order matters: each wrap becomes the new outermost
	// layer, so ConfigurableCORS runs first and Logger runs last).
	handler := http.Handler(mux)
	handler = Logger(handler)
	handler = Recovery(handler)
	handler = APIKeyAuth(handler)
	handler = ConfigurableCORS(handler)

	return handler
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeAnthropicError(w, http.StatusNotFound, "not_found_error", "Not found")
}
