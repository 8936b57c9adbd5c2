package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/relaycore/dispatch-proxy/internal/config"
	"github.com/relaycore/dispatch-proxy/internal/dispatch"
	merrors "github.com/relaycore/dispatch-proxy/internal/errors"
	"github.com/relaycore/dispatch-proxy/internal/routing"
	"github.com/relaycore/dispatch-proxy/internal/utils"
	"github.com/relaycore/dispatch-proxy/pkg/types"
)

// handleMessages handles POST /v1/messages, the Anthropic-shaped surface.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.handleNotFound(w, r)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.RequestBodyLimit)

	var req types.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, string(merrors.ErrorTypeInvalidRequest), errInvalidJSON(err).Error())
		return
	}
	if req.Model == "" {
		writeAnthropicError(w, http.StatusBadRequest, string(merrors.ErrorTypeInvalidRequest), "model is required")
		return
	}

	entries, err := s.resolveEntries(req.Model)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	dreq := anthropicMessagesToDispatch(&req)

	if !req.Stream {
		resp, err := s.engine.Dispatch(r.Context(), req.Model, entries, dreq)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dispatchToAnthropicResponse(resp, req.Model))
		return
	}

	s.streamMessages(w, r.Context(), req.Model, entries, dreq)
}

// streamMessages dispatches a streaming request and forwards each frame
// verbatim: dispatch.StreamFrame.Data is already a fully framed Anthropic
// SSE event, produced by the adapter via dispatch.FormatSSEFrame.
func (s *Server) streamMessages(w http.ResponseWriter, ctx context.Context, key string, entries []routing.Entry, req dispatch.Request) {
	frames, err := s.engine.DispatchStream(ctx, key, entries, req)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	for frame := range frames {
		if frame.Err != nil {
			utils.Warn("[api] stream error for %s: %v", key, frame.Err)
			sse.WriteError("api_error", frame.Err.Error())
			return
		}
		if err := sse.WriteFrame(frame.Data); err != nil {
			return
		}
	}
}
