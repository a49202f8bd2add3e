package domain

import (
	"fmt"
	"strings"
	"time"
)

// timestampSanitizer replaces characters that are illegal or awkward in file
// names on common platforms.
var timestampSanitizer = strings.NewReplacer(":", "-", "+", "", "T", "_")

// ParseLoadedAt parses an ISO-8601 timestamp with offset, e.g.
// "2025-10-14T09:00:00+00:00".
func ParseLoadedAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// SanitizeTimestamp makes a source timestamp safe for use in a file name:
// "2025-10-14T09:00:00+00:00" becomes "2025-10-14_09-00-0000-00".
func SanitizeTimestamp(s string) string {
	return timestampSanitizer.Replace(s)
}

// RepresentativeTimestamp returns the raw "fecha_carg" of the first record.
// The second return value lists how many records carry a different value;
// the source publishes one shared timestamp per poll, so anything other than
// zero points at an upstream anomaly.
func RepresentativeTimestamp(results []RawRecord) (string, int, error) {
	if len(results) == 0 {
		return "", 0, ErrEmptyBatch
	}
	ts, err := stringField(results[0], FieldLoadedAt)
	if err != nil {
		return "", 0, err
	}
	if ts == "" {
		return "", 0, fmt.Errorf("%w: field %q is empty", ErrSchema, FieldLoadedAt)
	}

	mismatched := 0
	for _, rec := range results[1:] {
		if other, _ := rec[FieldLoadedAt].(string); other != ts {
			mismatched++
		}
	}
	return ts, mismatched, nil
}
