package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/catalog"
	"github.com/relaycore/dispatch-proxy/pkg/types"
)

// handleModels handles GET /v1/models: the provider-prefixed catalog union,
// built at request time the way the teacher's provider.Registry.AllModels
// assembles its map at registration time.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.handleNotFound(w, r)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var models []types.Model
	for _, provider := range catalog.Providers() {
		for _, modelID := range catalog.ModelsFor(provider) {
			id := provider + "/" + modelID
			models = append(models, types.Model{
				ID:          id,
				CreatedAt:   &now,
				DisplayName: modelID,
				Type:        "model",
			})
		}
	}

	resp := types.ModelsResponse{Data: models, HasMore: false}
	if len(models) > 0 {
		resp.FirstID = models[0].ID
		resp.LastID = models[len(models)-1].ID
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
