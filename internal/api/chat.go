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

// handleChatCompletions handles POST /v1/chat/completions, the OpenAI-shaped
// surface layered over the same dispatch core as /v1/messages.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.handleNotFound(w, r)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.RequestBodyLimit)

	var req types.ChatCompletionRequest
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

	dreq := openAIToDispatch(&req)

	if !req.Stream {
		resp, err := s.engine.Dispatch(r.Context(), req.Model, entries, dreq)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dispatchToChatCompletion(resp, req.Model))
		return
	}

	s.streamChatCompletions(w, r.Context(), req.Model, entries, dreq)
}

// streamChatCompletions dispatches a streaming request and re-shapes each
// Anthropic-shaped frame the adapter emits into OpenAI-style chunks before
// writing it, since the OpenAI surface's wire format differs from the
// dispatch core's own.
func (s *Server) streamChatCompletions(w http.ResponseWriter, ctx context.Context, key string, entries []routing.Entry, req dispatch.Request) {
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

	state := newOpenAIStreamState()
	for frame := range frames {
		if frame.Err != nil {
			utils.Warn("[api] stream error for %s: %v", key, frame.Err)
			sse.WriteData(map[string]string{"error": frame.Err.Error()})
			return
		}
		for _, chunk := range translateFrame(frame.Data, key, state) {
			if err := sse.WriteData(chunk); err != nil {
				return
			}
		}
	}
	sse.WriteFrame([]byte("data: [DONE]\n\n"))
}
