package retrypolicy

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ExtractDelay implements the delay-extraction priority chain: Retry-After
// header, then JSON body RetryInfo/quotaResetDelay details, then
// error.retry_after, then a regex scan of the plain text. It returns
// (0, false) if nothing yielded a delay.
func ExtractDelay(retryAfterHeader string, body string) (int64, bool) {
	if ms, ok := parseRetryAfterHeader(retryAfterHeader); ok {
		return ms, true
	}
	if ms, ok := parseRetryInfoDetails(body); ok {
		return ms, true
	}
	if ms, ok := parseQuotaResetDelayDetails(body); ok {
		return ms, true
	}
	if ms, ok := parseRetryAfterField(body); ok {
		return ms, true
	}
	if ms, ok := parsePhrases(body); ok {
		return ms, true
	}
	return 0, false
}

func parseRetryAfterHeader(h string) (int64, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(h, 64); err == nil {
		return int64(seconds * 1000), true
	}
	if t, err := http.ParseTime(h); err == nil {
		delta := time.Until(t).Milliseconds()
		if delta < 0 {
			delta = 0
		}
		return delta, true
	}
	return 0, false
}

// parseRetryInfoDetails looks for error.details[] entries whose @type
// contains "RetryInfo" with a parseable retryDelay (a Google duration
// string, e.g. "1.500s").
func parseRetryInfoDetails(body string) (int64, bool) {
	if !gjson.Valid(body) {
		return 0, false
	}
	details := gjson.Get(body, "error.details")
	if !details.IsArray() {
		return 0, false
	}
	var result int64
	var found bool
	details.ForEach(func(_, detail gjson.Result) bool {
		typ := detail.Get("@type").String()
		if !strings.Contains(typ, "RetryInfo") {
			return true
		}
		delay := detail.Get("retryDelay").String()
		if ms, ok := ParseDuration(delay); ok {
			result, found = ms, true
			return false
		}
		return true
	})
	return result, found
}

// parseQuotaResetDelayDetails looks for any details[] entry whose
// metadata.quotaResetDelay is a parseable duration string.
func parseQuotaResetDelayDetails(body string) (int64, bool) {
	if !gjson.Valid(body) {
		return 0, false
	}
	details := gjson.Get(body, "error.details")
	if !details.IsArray() {
		return 0, false
	}
	var result int64
	var found bool
	details.ForEach(func(_, detail gjson.Result) bool {
		delay := detail.Get("metadata.quotaResetDelay").String()
		if delay == "" {
			return true
		}
		if ms, ok := ParseDuration(delay); ok {
			result, found = ms, true
			return false
		}
		return true
	})
	return result, found
}

func parseRetryAfterField(body string) (int64, bool) {
	if !gjson.Valid(body) {
		return 0, false
	}
	v := gjson.Get(body, "error.retry_after")
	if !v.Exists() {
		return 0, false
	}
	switch v.Type {
	case gjson.Number:
		return int64(v.Float() * 1000), true
	case gjson.String:
		if seconds, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return int64(seconds * 1000), true
		}
	}
	return 0, false
}

var (
	tryAgainMinSecRe = regexp.MustCompile(`(?i)try again in (\d+)m\s*(\d+(?:\.\d+)?)s`)
	tryAgainSecRe    = regexp.MustCompile(`(?i)try again in (\d+(?:\.\d+)?)s`)
	quotaResetSecRe  = regexp.MustCompile(`(?i)quota will reset in (\d+(?:\.\d+)?) seconds?`)
	retryAfterSecRe  = regexp.MustCompile(`(?i)retry after (\d+(?:\.\d+)?) seconds?`)
	waitSecRe        = regexp.MustCompile(`(?i)\(wait (\d+(?:\.\d+)?)s\)`)
)

// parsePhrases scans plain text for the specific phrasings the upstreams are
// known to emit.
func parsePhrases(body string) (int64, bool) {
	if m := tryAgainMinSecRe.FindStringSubmatch(body); m != nil {
		minutes, _ := strconv.ParseFloat(m[1], 64)
		seconds, _ := strconv.ParseFloat(m[2], 64)
		return int64((minutes*60 + seconds) * 1000), true
	}
	if m := tryAgainSecRe.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseFloat(m[1], 64)
		return int64(seconds * 1000), true
	}
	if m := quotaResetSecRe.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseFloat(m[1], 64)
		return int64(seconds * 1000), true
	}
	if m := retryAfterSecRe.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseFloat(m[1], 64)
		return int64(seconds * 1000), true
	}
	if m := waitSecRe.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseFloat(m[1], 64)
		return int64(seconds * 1000), true
	}
	return 0, false
}
