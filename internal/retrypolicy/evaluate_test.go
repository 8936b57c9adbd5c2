package retrypolicy

import "testing"

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1500ms", 1500, true},
		{"2m30s", 150000, true},
		{"1h16m0.667s", 4560667, true},
		{"n/a", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseDuration(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseDuration(%q) = (%d, %v), want (%d, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestExtractDelayRetryAfterHeaderWins(t *testing.T) {
	ms, ok := ExtractDelay("5", "{}")
	if !ok || ms != 5000 {
		t.Fatalf("got (%d, %v), want (5000, true)", ms, ok)
	}
}

func TestExtractDelayRetryInfoDetails(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`
	ms, ok := ExtractDelay("", body)
	if !ok || ms != 1500 {
		t.Fatalf("got (%d, %v), want (1500, true)", ms, ok)
	}
}

func TestExtractDelayQuotaResetDelayMetadata(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.ErrorInfo","metadata":{"quotaResetDelay":"754.431528ms"}}]}}`
	ms, ok := ExtractDelay("", body)
	if !ok || ms != 754 {
		t.Fatalf("got (%d, %v), want (754, true)", ms, ok)
	}
}

func TestExtractDelayPhraseMinutesAndSeconds(t *testing.T) {
	ms, ok := ExtractDelay("", "try again in 2m 3s")
	if !ok || ms != 123000 {
		t.Fatalf("got (%d, %v), want (123000, true)", ms, ok)
	}
}

func TestExtractDelayNone(t *testing.T) {
	_, ok := ExtractDelay("", "no delay information here")
	if ok {
		t.Fatal("expected no delay extracted")
	}
}

func TestEvaluate429WithParseableDelay(t *testing.T) {
	s := Evaluate(429, "", "5")
	if s.Kind != FixedDelay || s.DelayMs != 5500 {
		t.Fatalf("got %+v, want fixed_delay 5500", s)
	}
}

func TestEvaluate429DelayCappedAt30s(t *testing.T) {
	s := Evaluate(429, "", "60")
	if s.Kind != FixedDelay || s.DelayMs != 30000 {
		t.Fatalf("got %+v, want fixed_delay capped at 30000", s)
	}
}

func TestEvaluate429NoHintsLinearBackoff(t *testing.T) {
	s := Evaluate(429, "nothing useful here", "")
	if s.Kind != LinearBackoff || s.BaseMs != 2000 {
		t.Fatalf("got %+v, want linear_backoff base 2000", s)
	}
}

func TestEvaluate429ResourceExhaustedExponential(t *testing.T) {
	s := Evaluate(429, `{"error":"RESOURCE_EXHAUSTED quota exceeded"}`, "")
	if s.Kind != ExponentialBackoff || s.BaseMs != 5000 || s.MaxMs != 30000 {
		t.Fatalf("got %+v, want exponential_backoff base 5000 max 30000", s)
	}
}

func TestEvaluate5xxProfiles(t *testing.T) {
	if s := Evaluate(503, "", ""); s.Kind != ExponentialBackoff || s.BaseMs != 1000 || s.MaxMs != 8000 {
		t.Fatalf("503: got %+v", s)
	}
	if s := Evaluate(500, "", ""); s.Kind != LinearBackoff || s.BaseMs != 500 {
		t.Fatalf("500: got %+v", s)
	}
}

func TestEvaluateAuthFastRetry(t *testing.T) {
	for _, status := range []int{401, 403} {
		s := Evaluate(status, "", "")
		if s.Kind != FixedDelay || s.DelayMs != 100 {
			t.Fatalf("%d: got %+v, want fixed_delay 100", status, s)
		}
	}
}

func TestEvaluateOtherNoRetry(t *testing.T) {
	s := Evaluate(400, "", "")
	if s.Kind != NoRetry {
		t.Fatalf("got %+v, want no_retry", s)
	}
}

func TestStrategyDelayExponentialMonotonicUntilCapped(t *testing.T) {
	s := Strategy{Kind: ExponentialBackoff, BaseMs: 1000, MaxMs: 8000}
	var prev int64
	for attempt := 0; attempt < 6; attempt++ {
		d, ok := s.Delay(attempt)
		if !ok || d < 0 {
			t.Fatalf("attempt %d: got (%d, %v)", attempt, d, ok)
		}
		if d < prev {
			t.Fatalf("attempt %d: delay %d < previous %d", attempt, d, prev)
		}
		if d > s.MaxMs {
			t.Fatalf("attempt %d: delay %d exceeds max %d", attempt, d, s.MaxMs)
		}
		prev = d
	}
}

func TestStrategyDelayNoRetry(t *testing.T) {
	s := Strategy{Kind: NoRetry}
	if d, ok := s.Delay(0); ok || d != 0 {
		t.Fatalf("got (%d, %v), want (0, false)", d, ok)
	}
}

func TestStrategyDelayLinear(t *testing.T) {
	s := Strategy{Kind: LinearBackoff, BaseMs: 2000}
	if d, _ := s.Delay(0); d != 2000 {
		t.Fatalf("attempt 0: got %d, want 2000", d)
	}
	if d, _ := s.Delay(2); d != 6000 {
		t.Fatalf("attempt 2: got %d, want 6000", d)
	}
}
