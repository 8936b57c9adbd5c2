package retrypolicy

import (
	"regexp"
	"strconv"
)

var durationSegmentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)(ms|s|m|h)`)

// ParseDuration sums one or more Google-style "<number><unit>" segments
// (units ms, s, m, h) into a millisecond count. It returns (0, false) if no
// segment matched anywhere in s, mirroring the upstream convention that a
// duration string with no recognizable unit carries no delay information.
func ParseDuration(s string) (int64, bool) {
	matches := durationSegmentRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}

	var totalMs float64
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "ms":
			totalMs += value
		case "s":
			totalMs += value * 1000
		case "m":
			totalMs += value * 60 * 1000
		case "h":
			totalMs += value * 60 * 60 * 1000
		}
	}
	return int64(totalMs), true
}
