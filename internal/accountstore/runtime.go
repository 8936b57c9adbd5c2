package accountstore

import (
	"sync"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/config"
	"github.com/relaycore/dispatch-proxy/internal/errors"
	"github.com/relaycore/dispatch-proxy/internal/retrypolicy"
)

// RateLimitReason classifies why an account was marked rate-limited; it
// drives the cooldown length when the upstream delay cannot be parsed.
type RateLimitReason string

const (
	ReasonQuotaExhausted RateLimitReason = "quota_exhausted"
	ReasonRateLimited    RateLimitReason = "rate_limited"
	ReasonServerError    RateLimitReason = "server_error"
	ReasonUnauthorized   RateLimitReason = "unauthorized"
	ReasonOther          RateLimitReason = "other"
)

// runtimeState is the in-memory, per-(provider,account) state described in
// §3: never persisted, rebuilt lazily as the process runs.
type runtimeState struct {
	mu                sync.Mutex
	rateLimitedUntil  time.Time
	rateLimitReason   RateLimitReason
	inFlight          int
	lastSuccessAt     time.Time
	lastRateLimitedAt time.Time
}

// Store is the account store: the persisted pool of provider accounts plus
// their transient runtime state. One Store per process.
type Store struct {
	mu      sync.RWMutex
	runtime map[string]*runtimeState // key: provider + "/" + id
}

// NewStore creates an empty account store. Persisted accounts are read
// lazily from disk on each call; only runtime state lives in memory.
func NewStore() *Store {
	return &Store{runtime: make(map[string]*runtimeState)}
}

func key(provider, id string) string { return provider + "/" + id }

func (s *Store) state(provider, id string) *runtimeState {
	k := key(provider, id)
	s.mu.RLock()
	st, ok := s.runtime[k]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.runtime[k]; ok {
		return st
	}
	st = &runtimeState{}
	s.runtime[k] = st
	return st
}

// SaveAccount atomically writes an account's persisted shard, stamping
// UpdatedAt (and CreatedAt if unset).
func (s *Store) SaveAccount(acc *Account) error {
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	return saveShard(acc)
}

// GetAccount reads one account's persisted shard. Returns (nil, nil) if no
// shard exists for (provider, id).
func (s *Store) GetAccount(provider, id string) (*Account, error) {
	acc, err := loadShard(provider, id)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return acc, nil
}

// ListAccounts returns every persisted account for a provider, in shard
// listing order (account creation order is not guaranteed by the
// filesystem; callers that need creation order should sort by CreatedAt).
func (s *Store) ListAccounts(provider string) ([]*Account, error) {
	ids, err := listShardIDs(provider)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(ids))
	for _, id := range ids {
		acc, err := loadShard(provider, id)
		if err != nil {
			continue
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// ListSummaries returns the dashboard-safe, token-redacted view of every
// persisted account for a provider.
func (s *Store) ListSummaries(provider string) ([]Summary, error) {
	accounts, err := s.ListAccounts(provider)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, len(accounts))
	for i, acc := range accounts {
		summaries[i] = acc.redact()
	}
	return summaries, nil
}

// RemoveAccount deletes an account's persisted shard and its runtime state.
func (s *Store) RemoveAccount(provider, id string) error {
	if err := removeShard(provider, id); err != nil && !isNotExist(err) {
		return err
	}
	s.mu.Lock()
	delete(s.runtime, key(provider, id))
	s.mu.Unlock()
	return nil
}

// MarkRateLimited records that (provider, id) must not be selected until the
// computed cooldown elapses. It derives the reason from the upstream error
// and, when the upstream provided a parseable delay, uses that instead of
// the fixed per-reason default. It returns the effective cooldown for
// logging.
func (s *Store) MarkRateLimited(provider, id string, status int, body string, retryAfterHeader string) time.Duration {
	reason := classifyReason(status, body)
	cooldown := defaultCooldown(reason)

	if delayMs, ok := retrypolicy.ExtractDelay(retryAfterHeader, body); ok && delayMs > 0 {
		cooldown = time.Duration(delayMs) * time.Millisecond
		if status == 429 {
			cooldown += 500 * time.Millisecond
			if cooldown > 30*time.Second {
				cooldown = 30 * time.Second
			}
		}
	}

	st := s.state(provider, id)
	st.mu.Lock()
	st.rateLimitedUntil = time.Now().Add(cooldown)
	st.rateLimitReason = reason
	st.lastRateLimitedAt = time.Now()
	st.mu.Unlock()

	return cooldown
}

func classifyReason(status int, body string) RateLimitReason {
	ue := &errors.UpstreamError{Status: status, Body: body}
	switch ue.Reason() {
	case errors.ReasonQuotaExhausted:
		return ReasonQuotaExhausted
	case errors.ReasonRateLimited:
		return ReasonRateLimited
	case errors.ReasonUnauthorized, errors.ReasonForbidden:
		return ReasonUnauthorized
	case errors.ReasonUpstreamError:
		return ReasonServerError
	default:
		return ReasonOther
	}
}

func defaultCooldown(reason RateLimitReason) time.Duration {
	switch reason {
	case ReasonQuotaExhausted:
		return config.CooldownQuotaExhausted
	case ReasonRateLimited:
		return config.CooldownRateLimited
	case ReasonServerError:
		return config.CooldownServerError
	case ReasonUnauthorized:
		return config.CooldownUnauthorized
	default:
		return config.CooldownRateLimited
	}
}

// MarkSuccess clears rate-limit state and stamps lastSuccessAt.
func (s *Store) MarkSuccess(provider, id string) {
	st := s.state(provider, id)
	st.mu.Lock()
	st.rateLimitedUntil = time.Time{}
	st.rateLimitReason = ""
	st.lastSuccessAt = time.Now()
	st.mu.Unlock()
}

// MarkSuccessFromError is called when an adapter returned a 4xx that is
// neither authentication nor rate-limiting: the account is healthy, so its
// rate-limit state is left untouched, but it is not treated as a strike.
func (s *Store) MarkSuccessFromError(provider, id string) {
	st := s.state(provider, id)
	st.mu.Lock()
	st.lastSuccessAt = time.Now()
	st.mu.Unlock()
}

// RateLimitReason returns the reason (provider, id) was last marked
// rate-limited; the zero value means it has never been marked or has since
// cleared.
func (s *Store) RateLimitReason(provider, id string) RateLimitReason {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rateLimitReason
}

// IsRateLimited reports whether now < rateLimitedUntil.
func (s *Store) IsRateLimited(provider, id string) bool {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return time.Now().Before(st.rateLimitedUntil)
}

// RateLimitedUntil returns the absolute cooldown expiry, zero if not
// currently rate-limited.
func (s *Store) RateLimitedUntil(provider, id string) time.Time {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rateLimitedUntil
}

// RecentlyRateLimited reports whether (provider, id) was marked rate-limited
// within the last `within` duration, even if its hard cooldown has already
// expired. Used as a soft preference signal: an account that just recovered
// from a rate limit is more likely to hit one again than an account with no
// recent history, so the dispatch engine tries it last rather than excluding
// it outright.
func (s *Store) RecentlyRateLimited(provider, id string, within time.Duration) bool {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastRateLimitedAt.IsZero() {
		return false
	}
	return time.Since(st.lastRateLimitedAt) < within
}

// LastSuccessAt returns the last time (provider, id) completed a call
// successfully; the zero value means never.
func (s *Store) LastSuccessAt(provider, id string) time.Time {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSuccessAt
}

// MarkInFlight increments the in-flight counter and returns the count after
// incrementing; callers enforce the provider-specific cap themselves.
func (s *Store) MarkInFlight(provider, id string) int {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.inFlight++
	return st.inFlight
}

// ReleaseInFlight decrements the in-flight counter, floored at zero.
func (s *Store) ReleaseInFlight(provider, id string) {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight > 0 {
		st.inFlight--
	}
}

// InFlight returns the current in-flight count for (provider, id).
func (s *Store) InFlight(provider, id string) int {
	st := s.state(provider, id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlight
}

// ClearExpiredLimits drops cooldowns that have already elapsed across every
// runtime-tracked account; the periodic janitor calls this so stale state
// never lingers between dispatches.
func (s *Store) ClearExpiredLimits() {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.runtime {
		st.mu.Lock()
		if !st.rateLimitedUntil.IsZero() && now.After(st.rateLimitedUntil) {
			st.rateLimitedUntil = time.Time{}
			st.rateLimitReason = ""
		}
		st.mu.Unlock()
	}
}
