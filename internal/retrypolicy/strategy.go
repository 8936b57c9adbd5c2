package retrypolicy

// Kind enumerates the retry-strategy variants the dispatch engine branches
// on. Exactly one kind applies per evaluation.
type Kind string

const (
	NoRetry            Kind = "no_retry"
	FixedDelay         Kind = "fixed_delay"
	LinearBackoff      Kind = "linear_backoff"
	ExponentialBackoff Kind = "exponential_backoff"
)

// Strategy is the output of Evaluate: a kind plus the parameters needed by
// Delay to compute a per-attempt wait.
type Strategy struct {
	Kind Kind
	// DelayMs is the fixed delay, in ms, for Kind == FixedDelay.
	DelayMs int64
	// BaseMs is the base delay for LinearBackoff and ExponentialBackoff.
	BaseMs int64
	// MaxMs caps ExponentialBackoff.
	MaxMs int64
}

// Delay computes the wait, in milliseconds, before attempt number `attempt`
// (zero-based). NoRetry always returns (0, false).
func (s Strategy) Delay(attempt int) (int64, bool) {
	switch s.Kind {
	case NoRetry:
		return 0, false
	case FixedDelay:
		return s.DelayMs, true
	case LinearBackoff:
		return s.BaseMs * int64(attempt+1), true
	case ExponentialBackoff:
		d := s.BaseMs
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= s.MaxMs {
				d = s.MaxMs
				break
			}
		}
		if d > s.MaxMs {
			d = s.MaxMs
		}
		return d, true
	default:
		return 0, false
	}
}
