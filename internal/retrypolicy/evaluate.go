package retrypolicy

import "strings"

// Evaluate classifies an upstream error into a Strategy per the
// status/body/header contract: a 429 with a parseable delay always wins a
// fixed_delay capped at 30s; failing that, body hints pick between linear
// and exponential backoff; 503/529 and 500 get fixed backoff profiles;
// 401/403 get a fast fixed_delay to permit a token-refresh cycle; everything
// else does not retry.
func Evaluate(status int, body string, retryAfterHeader string) Strategy {
	switch status {
	case 429:
		if ms, ok := ExtractDelay(retryAfterHeader, body); ok {
			delay := ms + 500
			if delay > 30000 {
				delay = 30000
			}
			return Strategy{Kind: FixedDelay, DelayMs: delay}
		}
		lower := strings.ToLower(body)
		if strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "quota") {
			return Strategy{Kind: ExponentialBackoff, BaseMs: 5000, MaxMs: 30000}
		}
		if strings.Contains(lower, "per minute") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") {
			return Strategy{Kind: LinearBackoff, BaseMs: 2000}
		}
		return Strategy{Kind: LinearBackoff, BaseMs: 2000}
	case 503, 529:
		return Strategy{Kind: ExponentialBackoff, BaseMs: 1000, MaxMs: 8000}
	case 500:
		return Strategy{Kind: LinearBackoff, BaseMs: 500}
	case 401, 403:
		return Strategy{Kind: FixedDelay, DelayMs: 100}
	default:
		return Strategy{Kind: NoRetry}
	}
}
