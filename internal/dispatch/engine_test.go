package dispatch

import (
	"context"
	"testing"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	derrors "github.com/relaycore/dispatch-proxy/internal/errors"
	"github.com/relaycore/dispatch-proxy/internal/routing"
)

// scriptedAdapter replies to Complete calls in the order scripted per
// account id, recording the call order observed by the test.
type scriptedAdapter struct {
	calls   *[]string
	scripts map[string][]scriptedReply
	pos     map[string]int
}

type scriptedReply struct {
	status int // 0 means success
	body   string
}

func newScriptedAdapter(calls *[]string, scripts map[string][]scriptedReply) *scriptedAdapter {
	return &scriptedAdapter{calls: calls, scripts: scripts, pos: make(map[string]int)}
}

func (a *scriptedAdapter) Complete(ctx context.Context, account *accountstore.Account, req Request) (*Response, error) {
	*a.calls = append(*a.calls, account.ID)

	replies := a.scripts[account.ID]
	i := a.pos[account.ID]
	if i >= len(replies) {
		return &Response{StopReason: StopEndTurn}, nil
	}
	a.pos[account.ID] = i + 1
	reply := replies[i]

	if reply.status == 0 {
		return &Response{StopReason: StopEndTurn}, nil
	}
	return nil, &derrors.UpstreamError{Provider: account.Provider, Status: reply.status, Body: reply.body}
}

func (a *scriptedAdapter) Stream(ctx context.Context, account *accountstore.Account, req Request) (<-chan StreamFrame, error) {
	return nil, nil
}

func (a *scriptedAdapter) Refresh(ctx context.Context, account *accountstore.Account) error {
	return nil
}

func newTestStoreWithAccounts(t *testing.T, provider string, ids ...string) *accountstore.Store {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DISPATCH_DATA_DIR", dir)
	s := accountstore.NewStore()
	for _, id := range ids {
		if err := s.SaveAccount(&accountstore.Account{ID: id, Provider: provider}); err != nil {
			t.Fatalf("SaveAccount(%s): %v", id, err)
		}
	}
	return s
}

func entriesFor(provider string, ids ...string) []routing.Entry {
	out := make([]routing.Entry, len(ids))
	for i, id := range ids {
		out[i] = routing.Entry{ID: "e-" + id, Provider: provider, AccountID: id, ModelID: "m"}
	}
	return out
}

func TestStickySkip(t *testing.T) {
	var calls []string
	store := newTestStoreWithAccounts(t, "codex", "acc1", "acc2", "acc3")
	adapter := newScriptedAdapter(&calls, map[string][]scriptedReply{
		"acc1": {{status: 429, body: "RESOURCE_EXHAUSTED"}},
		"acc2": {{status: 0}},
	})
	engine := NewEngine(store, map[string]Adapter{"codex": adapter})
	entries := entriesFor("codex", "acc1", "acc2", "acc3")

	resp, err := engine.Dispatch(context.Background(), "flow-head", entries, Request{Model: "m"})
	if err != nil {
		t.Fatalf("request 1: unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("request 1: expected a response")
	}
	if len(calls) != 2 || calls[0] != "acc1" || calls[1] != "acc2" {
		t.Fatalf("request 1: call order = %v, want [acc1 acc2]", calls)
	}

	calls = nil
	resp, err = engine.Dispatch(context.Background(), "flow-head", entries, Request{Model: "m"})
	if err != nil {
		t.Fatalf("request 2: unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("request 2: expected a response")
	}
	if len(calls) != 1 || calls[0] != "acc2" {
		t.Fatalf("request 2: call order = %v, want [acc2] (acc1 still cooling down)", calls)
	}
}

func TestHeadReprobe(t *testing.T) {
	var calls []string
	store := newTestStoreWithAccounts(t, "codex", "b1", "b2", "b3")
	adapter := newScriptedAdapter(&calls, map[string][]scriptedReply{
		"b2": {{status: 429, body: "rate limit"}},
		"b1": {{status: 429, body: "rate limit"}},
		"b3": {{status: 0}},
	})
	engine := NewEngine(store, map[string]Adapter{"codex": adapter})
	entries := entriesFor("codex", "b1", "b2", "b3")
	engine.setCursor("flow-probe", 1) // cursor already sitting on b2 from an earlier success

	resp, err := engine.Dispatch(context.Background(), "flow-probe", entries, Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response")
	}
	if len(calls) != 3 || calls[0] != "b2" || calls[1] != "b1" || calls[2] != "b3" {
		t.Fatalf("call order = %v, want [b2 b1 b3]", calls)
	}

	cursor := engine.cursorFor("flow-probe", len(entries))
	if entries[cursor].AccountID != "b3" {
		t.Fatalf("expected cursor to land on b3, got %s", entries[cursor].AccountID)
	}
}

func TestAllRateLimitedCallsCursorOnce(t *testing.T) {
	var calls []string
	store := newTestStoreWithAccounts(t, "codex", "r1", "r2")
	store.MarkRateLimited("codex", "r1", 429, "", "")
	store.MarkRateLimited("codex", "r2", 429, "", "")

	adapter := newScriptedAdapter(&calls, map[string][]scriptedReply{
		"r1": {{status: 429, body: "still limited"}},
	})
	engine := NewEngine(store, map[string]Adapter{"codex": adapter})
	entries := entriesFor("codex", "r1", "r2")

	_, err := engine.Dispatch(context.Background(), "flow-rate-limit", entries, Request{Model: "m"})
	if err == nil {
		t.Fatal("expected the upstream error to be returned")
	}
	if len(calls) != 1 || calls[0] != "r1" {
		t.Fatalf("call order = %v, want [r1]", calls)
	}
}

func TestNonRetryableStatusSurfacesWithoutPenalty(t *testing.T) {
	var calls []string
	store := newTestStoreWithAccounts(t, "codex", "acc1")
	adapter := newScriptedAdapter(&calls, map[string][]scriptedReply{
		"acc1": {{status: 404, body: "model not found"}},
	})
	engine := NewEngine(store, map[string]Adapter{"codex": adapter})
	entries := entriesFor("codex", "acc1")

	_, err := engine.Dispatch(context.Background(), "flow-404", entries, Request{Model: "m"})
	if err == nil {
		t.Fatal("expected the 404 to surface")
	}
	if store.IsRateLimited("codex", "acc1") {
		t.Fatal("a non-retryable status must not penalize the account")
	}
}

func TestSoftLimitPreferenceDeprioritizesRecentlyLimited(t *testing.T) {
	store := newTestStoreWithAccounts(t, "codex", "c1", "c2", "c3")
	// c2 was rate-limited recently: still inside the soft-limit recency window.
	store.MarkRateLimited("codex", "c2", 429, "", "")

	entries := entriesFor("codex", "c1", "c2", "c3")
	engine := NewEngine(store, map[string]Adapter{"codex": &scriptedAdapter{calls: &[]string{}, scripts: map[string][]scriptedReply{}, pos: map[string]int{}}})

	order := attemptOrder(entries, 0, engine.softLimitPredicate())
	if got, want := entries[order[len(order)-1]].AccountID, "c2"; got != want {
		t.Fatalf("expected recently rate-limited account last in order %v, got %s", order, got)
	}
}

func TestSoftLimitDisabledLeavesOrderUnchanged(t *testing.T) {
	store := newTestStoreWithAccounts(t, "codex", "c1", "c2", "c3")
	store.MarkRateLimited("codex", "c2", 429, "", "")

	t.Setenv("SOFT_LIMIT_ENABLED", "false")

	entries := entriesFor("codex", "c1", "c2", "c3")
	engine := NewEngine(store, map[string]Adapter{"codex": &scriptedAdapter{calls: &[]string{}, scripts: map[string][]scriptedReply{}, pos: map[string]int{}}})

	order := attemptOrder(entries, 0, engine.softLimitPredicate())
	if len(order) != 3 || entries[order[1]].AccountID != "c2" {
		t.Fatalf("soft-limit disabled should not reorder entries, got %v", order)
	}
}

func TestRoutingErrorOnEmptyEntries(t *testing.T) {
	store := accountstore.NewStore()
	engine := NewEngine(store, map[string]Adapter{})

	_, err := engine.Dispatch(context.Background(), "flow-empty", nil, Request{Model: "ghost-model"})
	if _, ok := err.(*derrors.RoutingError); !ok {
		t.Fatalf("expected *errors.RoutingError, got %T: %v", err, err)
	}
}
