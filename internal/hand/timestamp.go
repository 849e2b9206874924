package hand

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimestamp converts "MM:SS" or "HH:MM:SS" into seconds. Fractional
// seconds are accepted in the last field.
func ParseTimestamp(ts string) (float64, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, false
	}
	parts := strings.Split(ts, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}

	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		vals[i] = v
	}

	if len(vals) == 2 {
		return vals[0]*60 + vals[1], true
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], true
}

// FormatTimestamp renders seconds as zero-padded "HH:MM:SS", truncating
// fractions.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
