package jobs

import (
	"net/http"
	"strings"
)

// NormalizeRunID accepts a run ID with or without its prefix and returns
// the prefixed form. It reports false for IDs that cannot be valid.
func NormalizeRunID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, RunPrefix) {
		id = RunPrefix + id
	}
	hexPart := id[len(RunPrefix):]
	if len(hexPart) != 32 {
		return "", false
	}
	for _, c := range hexPart {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return "", false
		}
	}
	return id, true
}

// CheckOwnership reports whether the streamId query parameter matches the
// run's stream. Callers answer 404 on mismatch so run IDs cannot be probed.
func CheckOwnership(r *http.Request, runStreamID string) bool {
	streamID := r.URL.Query().Get("streamId")
	return streamID != "" && strings.EqualFold(streamID, runStreamID)
}
