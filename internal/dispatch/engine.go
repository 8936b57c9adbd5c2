package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/config"
	derrors "github.com/relaycore/dispatch-proxy/internal/errors"
	"github.com/relaycore/dispatch-proxy/internal/retrypolicy"
	"github.com/relaycore/dispatch-proxy/internal/routing"
	"github.com/relaycore/dispatch-proxy/internal/utils"
)

// retryableStatuses are the upstream statuses that keep the attempt loop
// alive: the engine consults the retry policy and either advances to the
// next entry (408, 429, 500, 503, 529) or attempts a single token refresh
// (401, 403).
var retryableStatuses = map[int]bool{
	401: true, 403: true, 408: true, 429: true, 500: true, 503: true, 529: true,
}

// Engine walks a resolved entry list against provider adapters, tracking the
// sticky-head cursor per flow and the per-account in-flight cap.
type Engine struct {
	accounts *accountstore.Store
	adapters map[string]Adapter

	stickyMu sync.Mutex
	sticky   map[string]int // flow/model key -> last-good index
}

// NewEngine builds a dispatch engine over the given account store and the
// provider adapters keyed by provider name ("antigravity", "codex", "copilot").
func NewEngine(accounts *accountstore.Store, adapters map[string]Adapter) *Engine {
	return &Engine{
		accounts: accounts,
		adapters: adapters,
		sticky:   make(map[string]int),
	}
}

// inFlightCap returns the per-account concurrency cap for provider, or 0 for
// unlimited.
func inFlightCap(provider string) int {
	if provider == "antigravity" {
		return 1
	}
	return 0
}

// cursorFor returns the current sticky index for key, clamped into range.
func (e *Engine) cursorFor(key string, n int) int {
	e.stickyMu.Lock()
	idx, ok := e.sticky[key]
	e.stickyMu.Unlock()
	if !ok || idx < 0 || idx >= n {
		return 0
	}
	return idx
}

func (e *Engine) setCursor(key string, idx int) {
	e.stickyMu.Lock()
	e.sticky[key] = idx
	e.stickyMu.Unlock()
}

// attemptOrder builds the fixed probe order for one request: the sticky
// cursor entry first, the declared head next only when the cursor isn't
// already the head, then the remaining entries in their configured order.
// The remaining (non-cursor, non-head) entries are stably partitioned so
// that any flagged soft-limited by softLimited come last among them: the
// cursor and head slots are never reordered, since those already encode a
// stronger preference (stickiness, declared priority) than recent
// rate-limit history.
func attemptOrder(entries []routing.Entry, cursor int, softLimited func(routing.Entry) bool) []int {
	order := make([]int, 0, len(entries))
	seen := make(map[int]bool, len(entries))

	order = append(order, cursor)
	seen[cursor] = true

	if cursor != 0 {
		order = append(order, 0)
		seen[0] = true
	}

	var preferred, deprioritized []int
	for i := range entries {
		if seen[i] {
			continue
		}
		if softLimited != nil && softLimited(entries[i]) {
			deprioritized = append(deprioritized, i)
		} else {
			preferred = append(preferred, i)
		}
	}
	order = append(order, preferred...)
	order = append(order, deprioritized...)
	return order
}

// softLimitPredicate returns the soft-limit preference check used by
// attemptOrder, or nil when soft-limit preference is disabled. An entry is
// soft-limited when it recovered from a hard rate limit within the
// configured window: it is still tried, just after its peers.
func (e *Engine) softLimitPredicate() func(routing.Entry) bool {
	if !config.GetSoftLimitEnabled() {
		return nil
	}
	window := config.GetSoftLimitWindow()
	return func(ent routing.Entry) bool {
		return e.accounts.RecentlyRateLimited(ent.Provider, ent.AccountID, window)
	}
}

func (e *Engine) allRateLimited(entries []routing.Entry) bool {
	for _, ent := range entries {
		if !e.accounts.IsRateLimited(ent.Provider, ent.AccountID) {
			return false
		}
	}
	return true
}

func (e *Engine) anyOtherUsable(entries []routing.Entry, skipIdx int) bool {
	for i, ent := range entries {
		if i == skipIdx {
			continue
		}
		if !e.accounts.IsRateLimited(ent.Provider, ent.AccountID) {
			return true
		}
	}
	return false
}

// Dispatch walks entries (the resolver's output for one request) and returns
// the first successful adapter response, or the last upstream error once the
// list - and, if applicable, one bounded-wait retry pass - is exhausted.
//
// key identifies the sticky cursor: the flow name for a flow match, or the
// logical model string for an official-model match.
func (e *Engine) Dispatch(ctx context.Context, key string, entries []routing.Entry, req Request) (*Response, error) {
	if len(entries) == 0 {
		return nil, &derrors.RoutingError{Model: req.Model}
	}

	cursor := e.cursorFor(key, len(entries))
	order := attemptOrder(entries, cursor, e.softLimitPredicate())

	allLimited := e.allRateLimited(entries)
	if allLimited {
		order = order[:1]
	}

	resp, lastErr, retryable := e.runAttemptLoop(ctx, key, entries, order, req)
	if resp != nil {
		return resp, nil
	}

	if allLimited || !retryable || lastErr == nil {
		return nil, lastErr
	}

	// Single-entry exhaustion: one bounded-wait retry pass at the minimum
	// delay(0) among the entries still flagged retryable.
	if delay, ok := e.minRetryDelay(entries); ok {
		utils.Info("[dispatch] %s exhausted, waiting %s before one retry pass", key, delay)
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, lastErr
		}
		resp, retryErr, _ := e.runAttemptLoop(ctx, key, entries, order, req)
		if resp != nil {
			return resp, nil
		}
		if retryErr != nil {
			lastErr = retryErr
		}
	}

	return nil, lastErr
}

// runAttemptLoop tries entries in the given order once each, applying the
// skip/refresh/advance rules. It returns on the first success.
func (e *Engine) runAttemptLoop(ctx context.Context, key string, entries []routing.Entry, order []int, req Request) (resp *Response, lastErr error, retryable bool) {
	refreshed := make(map[string]bool)

	for _, idx := range order {
		if ctx.Err() != nil {
			return nil, ctx.Err(), false
		}

		entry := entries[idx]

		if e.accounts.IsRateLimited(entry.Provider, entry.AccountID) && e.anyOtherUsable(entries, idx) {
			continue
		}

		capLimit := inFlightCap(entry.Provider)
		if capLimit > 0 && e.accounts.InFlight(entry.Provider, entry.AccountID) >= capLimit {
			continue
		}

		r, attemptErr := e.attempt(ctx, entry, req)
		if attemptErr == nil {
			e.setCursor(key, idx)
			return r, nil, false
		}

		lastErr = attemptErr

		upstream, isUpstream := attemptErr.(*derrors.UpstreamError)
		if !isUpstream {
			// Transport error: record a strike for this request, advance.
			utils.Warn("[dispatch] transport error for %s/%s: %v", entry.Provider, entry.AccountID, attemptErr)
			continue
		}

		if !retryableStatuses[upstream.Status] {
			// Surfaced verbatim; account stays healthy.
			e.accounts.MarkSuccessFromError(entry.Provider, entry.AccountID)
			return nil, attemptErr, false
		}

		switch upstream.Status {
		case 401, 403:
			accKey := entry.Provider + "/" + entry.AccountID
			if refreshed[accKey] {
				continue
			}
			refreshed[accKey] = true

			adapter := e.adapters[entry.Provider]
			account, _ := e.accounts.GetAccount(entry.Provider, entry.AccountID)
			if adapter == nil || account == nil {
				e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, upstream.Status, upstream.Body, upstream.RetryAfterHeader)
				continue
			}

			if err := adapter.Refresh(ctx, account); err != nil {
				utils.Warn("[dispatch] refresh failed for %s/%s: %v", entry.Provider, entry.AccountID, err)
				e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, upstream.Status, upstream.Body, upstream.RetryAfterHeader)
				continue
			}

			r2, retryErr := e.attempt(ctx, entry, req)
			if retryErr == nil {
				e.setCursor(key, idx)
				return r2, nil, false
			}
			lastErr = retryErr
			if up2, ok := retryErr.(*derrors.UpstreamError); ok {
				e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, up2.Status, up2.Body, up2.RetryAfterHeader)
			}
		default: // 429, 408, 500, 503, 529
			e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, upstream.Status, upstream.Body, upstream.RetryAfterHeader)
		}

		retryable = true
	}

	return nil, lastErr, retryable
}

// attempt runs markInFlight/adapter-call/releaseInFlight/markSuccess for a
// single entry.
func (e *Engine) attempt(ctx context.Context, entry routing.Entry, req Request) (*Response, error) {
	adapter := e.adapters[entry.Provider]
	if adapter == nil {
		return nil, &derrors.TransportError{Provider: entry.Provider, Err: errUnknownProvider(entry.Provider)}
	}

	account, err := e.accounts.GetAccount(entry.Provider, entry.AccountID)
	if err != nil || account == nil {
		return nil, &derrors.TransportError{Provider: entry.Provider, Err: errUnknownAccount(entry.AccountID)}
	}

	e.accounts.MarkInFlight(entry.Provider, entry.AccountID)
	defer e.accounts.ReleaseInFlight(entry.Provider, entry.AccountID)

	entryReq := req
	entryReq.Model = entry.ModelID

	timeout := config.DefaultEntryTimeout()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := adapter.Complete(attemptCtx, account, entryReq)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, &derrors.TransportError{Provider: entry.Provider, Err: attemptCtx.Err()}
		}
		return nil, err
	}

	e.accounts.MarkSuccess(entry.Provider, entry.AccountID)
	return resp, nil
}

// DispatchStream mirrors Dispatch's sticky-cursor/attempt-order/skip/refresh
// rules but against adapter.Stream instead of adapter.Complete. The engine
// commits to an entry once its stream yields a first frame that is not an
// error; an error from Stream or in place of that first frame is treated
// like any other failed attempt. No further failover happens once frames are
// flowing, since the client may already have received partial output.
func (e *Engine) DispatchStream(ctx context.Context, key string, entries []routing.Entry, req Request) (<-chan StreamFrame, error) {
	if len(entries) == 0 {
		return nil, &derrors.RoutingError{Model: req.Model}
	}

	cursor := e.cursorFor(key, len(entries))
	order := attemptOrder(entries, cursor, e.softLimitPredicate())

	allLimited := e.allRateLimited(entries)
	if allLimited {
		order = order[:1]
	}

	frames, lastErr, retryable := e.runStreamAttemptLoop(ctx, key, entries, order, req)
	if frames != nil {
		return frames, nil
	}

	if allLimited || !retryable || lastErr == nil {
		return nil, lastErr
	}

	if delay, ok := e.minRetryDelay(entries); ok {
		utils.Info("[dispatch] %s exhausted, waiting %s before one retry pass", key, delay)
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, lastErr
		}
		frames, retryErr, _ := e.runStreamAttemptLoop(ctx, key, entries, order, req)
		if frames != nil {
			return frames, nil
		}
		if retryErr != nil {
			lastErr = retryErr
		}
	}

	return nil, lastErr
}

// runStreamAttemptLoop is runAttemptLoop's streaming counterpart: identical
// skip/refresh/advance rules, but the unit of success is a channel rather
// than a full response.
func (e *Engine) runStreamAttemptLoop(ctx context.Context, key string, entries []routing.Entry, order []int, req Request) (frames <-chan StreamFrame, lastErr error, retryable bool) {
	refreshed := make(map[string]bool)

	for _, idx := range order {
		if ctx.Err() != nil {
			return nil, ctx.Err(), false
		}

		entry := entries[idx]

		if e.accounts.IsRateLimited(entry.Provider, entry.AccountID) && e.anyOtherUsable(entries, idx) {
			continue
		}

		capLimit := inFlightCap(entry.Provider)
		if capLimit > 0 && e.accounts.InFlight(entry.Provider, entry.AccountID) >= capLimit {
			continue
		}

		f, attemptErr := e.attemptStream(ctx, entry, req)
		if attemptErr == nil {
			e.setCursor(key, idx)
			return f, nil, false
		}

		lastErr = attemptErr

		upstream, isUpstream := attemptErr.(*derrors.UpstreamError)
		if !isUpstream {
			utils.Warn("[dispatch] transport error for %s/%s: %v", entry.Provider, entry.AccountID, attemptErr)
			continue
		}

		if !retryableStatuses[upstream.Status] {
			e.accounts.MarkSuccessFromError(entry.Provider, entry.AccountID)
			return nil, attemptErr, false
		}

		switch upstream.Status {
		case 401, 403:
			accKey := entry.Provider + "/" + entry.AccountID
			if refreshed[accKey] {
				continue
			}
			refreshed[accKey] = true

			adapter := e.adapters[entry.Provider]
			account, _ := e.accounts.GetAccount(entry.Provider, entry.AccountID)
			if adapter == nil || account == nil {
				e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, upstream.Status, upstream.Body, upstream.RetryAfterHeader)
				continue
			}

			if err := adapter.Refresh(ctx, account); err != nil {
				utils.Warn("[dispatch] refresh failed for %s/%s: %v", entry.Provider, entry.AccountID, err)
				e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, upstream.Status, upstream.Body, upstream.RetryAfterHeader)
				continue
			}

			f2, retryErr := e.attemptStream(ctx, entry, req)
			if retryErr == nil {
				e.setCursor(key, idx)
				return f2, nil, false
			}
			lastErr = retryErr
			if up2, ok := retryErr.(*derrors.UpstreamError); ok {
				e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, up2.Status, up2.Body, up2.RetryAfterHeader)
			}
		default:
			e.accounts.MarkRateLimited(entry.Provider, entry.AccountID, upstream.Status, upstream.Body, upstream.RetryAfterHeader)
		}

		retryable = true
	}

	return nil, lastErr, retryable
}

// attemptStream runs markInFlight/adapter.Stream for a single entry. The
// in-flight slot and the per-entry timeout release on stream completion
// rather than on this call's return, since the channel outlives it.
func (e *Engine) attemptStream(ctx context.Context, entry routing.Entry, req Request) (<-chan StreamFrame, error) {
	adapter := e.adapters[entry.Provider]
	if adapter == nil {
		return nil, &derrors.TransportError{Provider: entry.Provider, Err: errUnknownProvider(entry.Provider)}
	}

	account, err := e.accounts.GetAccount(entry.Provider, entry.AccountID)
	if err != nil || account == nil {
		return nil, &derrors.TransportError{Provider: entry.Provider, Err: errUnknownAccount(entry.AccountID)}
	}

	e.accounts.MarkInFlight(entry.Provider, entry.AccountID)

	entryReq := req
	entryReq.Model = entry.ModelID

	streamCtx, cancel := context.WithTimeout(ctx, config.DefaultEntryTimeout())

	upstream, err := adapter.Stream(streamCtx, account, entryReq)
	if err != nil {
		cancel()
		e.accounts.ReleaseInFlight(entry.Provider, entry.AccountID)
		if streamCtx.Err() != nil && ctx.Err() == nil {
			return nil, &derrors.TransportError{Provider: entry.Provider, Err: streamCtx.Err()}
		}
		return nil, err
	}

	first, ok := <-upstream
	if ok && first.Err != nil {
		cancel()
		e.accounts.ReleaseInFlight(entry.Provider, entry.AccountID)
		return nil, first.Err
	}

	e.accounts.MarkSuccess(entry.Provider, entry.AccountID)

	out := make(chan StreamFrame)
	go func() {
		defer close(out)
		defer cancel()
		defer e.accounts.ReleaseInFlight(entry.Provider, entry.AccountID)
		for ; ok; first, ok = <-upstream {
			select {
			case out <- first:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// minRetryDelay computes the minimum delay(0) across entries whose last
// known failure status is retryable, for the bounded-wait retry pass.
func (e *Engine) minRetryDelay(entries []routing.Entry) (time.Duration, bool) {
	var min time.Duration
	found := false
	for _, ent := range entries {
		reason := e.accounts.RateLimitReason(ent.Provider, ent.AccountID)
		if reason == "" {
			continue
		}
		strategy := retrypolicy.Evaluate(statusForReason(reason), "", "")
		ms, ok := strategy.Delay(0)
		if !ok {
			continue
		}
		d := time.Duration(ms) * time.Millisecond
		if !found || d < min {
			min = d
			found = true
		}
	}
	return min, found
}

func statusForReason(reason accountstore.RateLimitReason) int {
	switch reason {
	case accountstore.ReasonQuotaExhausted, accountstore.ReasonRateLimited:
		return 429
	case accountstore.ReasonUnauthorized:
		return 401
	default:
		return 500
	}
}

func errUnknownProvider(provider string) error {
	return fmt.Errorf("dispatch: no adapter registered for provider %q", provider)
}

func errUnknownAccount(id string) error {
	return fmt.Errorf("dispatch: no account found for id %q", id)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
