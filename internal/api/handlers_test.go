package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/dispatch"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("DISPATCH_DATA_DIR", dir)
	os.Setenv("DISPATCH_ROUTING_PATH", dir+"/routing.json")
	t.Cleanup(func() {
		os.Unsetenv("DISPATCH_DATA_DIR")
		os.Unsetenv("DISPATCH_ROUTING_PATH")
	})

	store := accountstore.NewStore()
	engine := dispatch.NewEngine(store, map[string]dispatch.Adapter{})
	return NewServer(engine, store)
}

func TestHandleMessagesUnknownModelReturnsRoutingError(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"model": "no-such-model", "messages": []any{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleMessages(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleChatCompletionsMissingModelIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"messages": []any{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleModelsListsCatalogUnion(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()

	s.handleModels(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	data, _ := resp["data"].([]any)
	if len(data) == 0 {
		t.Fatal("expected a non-empty model catalog")
	}
}

func TestHandleHealthReportsOkWithNoAccounts(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", resp["status"])
	}
}
