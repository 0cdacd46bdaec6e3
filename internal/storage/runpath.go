package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RunPath builds the output path for one analysis run, named by timestamp
// plus a short run ID so repeated runs on the same manuscript sort cleanly.
// Example: runs/2026-03-14_0915_82f06b15/analysis.json
func RunPath(runID, manuscriptTitle string) string {
	timestamp := time.Now().Format("2006-01-02_1504")
	shortID := runID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	slug := sanitizeForFilename(manuscriptTitle, 30)
	if slug == "" {
		return filepath.Join("runs", fmt.Sprintf("%s_%s", timestamp, shortID))
	}
	return filepath.Join("runs", fmt.Sprintf("%s_%s_%s", timestamp, slug, shortID))
}

// sanitizeForFilename converts a string to a safe filename component.
func sanitizeForFilename(s string, maxLen int) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), "-_")
	if len(out) > maxLen {
		out = strings.Trim(out[:maxLen], "-_")
	}
	return out
}
