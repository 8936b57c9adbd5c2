package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaycore/dispatch-proxy/internal/catalog"
)

// accountHealth is one account's status line in the /health response.
type accountHealth struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	Label         string     `json:"label,omitempty"`
	RateLimited   bool       `json:"rateLimited"`
	RateLimitedTo *time.Time `json:"rateLimitedUntil,omitempty"`
	LastSuccess   *time.Time `json:"lastSuccessAt,omitempty"`
}

// handleHealth handles GET /health: a per-account status summary over the
// account store's runtime state, skipping auth (see APIKeyAuth's exemption).
// Each provider's summaries are fetched concurrently since they hit
// independent shard directories.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var (
		mu       sync.Mutex
		degraded bool
		accounts []accountHealth
	)

	g, ctx := errgroup.WithContext(r.Context())
	for _, provider := range catalog.Providers() {
		provider := provider
		g.Go(func() error {
			summaries, err := s.accounts.ListSummaries(provider)
			if err != nil {
				mu.Lock()
				degraded = true
				mu.Unlock()
				return nil
			}

			var providerHealth []accountHealth
			for _, sum := range summaries {
				h := accountHealth{ID: sum.ID, Provider: provider, Label: sum.Label}
				if s.accounts.IsRateLimited(provider, sum.ID) {
					h.RateLimited = true
					until := s.accounts.RateLimitedUntil(provider, sum.ID)
					h.RateLimitedTo = &until
				}
				if last := s.accounts.LastSuccessAt(provider, sum.ID); !last.IsZero() {
					h.LastSuccess = &last
				}
				providerHealth = append(providerHealth, h)
			}

			mu.Lock()
			accounts = append(accounts, providerHealth...)
			if anyRateLimited(providerHealth) {
				degraded = true
			}
			mu.Unlock()
			return ctx.Err()
		})
	}
	g.Wait()

	status := "ok"
	if degraded {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"accounts":  accounts,
	})
}

func anyRateLimited(accounts []accountHealth) bool {
	for _, a := range accounts {
		if a.RateLimited {
			return true
		}
	}
	return false
}
