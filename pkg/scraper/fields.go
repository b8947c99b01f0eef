package scraper

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// StringField returns a trimmed string value from an extraction payload, or
// nil when the key is missing, empty, or not a string.
func StringField(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// OptionalString returns nil for blank strings.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ParsePublishedAt converts an extracted publication timestamp into a time.
// Missing, empty, and unparseable values yield nil; it never fails. Strings
// without a zone are read as UTC. JSON numbers and 10/13-digit strings are
// Unix seconds/milliseconds.
func ParsePublishedAt(v any) *time.Time {
	switch t := v.(type) {
	case float64:
		// JSON 数字按 Unix 秒解释，超过 1e11 视为毫秒
		return fromEpoch(int64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if isDigits(s) && (len(s) == 10 || len(s) == 13) {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil
			}
			return fromEpoch(n)
		}
		ts, err := dateparse.ParseIn(s, time.UTC)
		if err != nil || ts.IsZero() {
			return nil
		}
		ts = ts.UTC()
		return &ts
	}
	return nil
}

func fromEpoch(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	var ts time.Time
	if n > 1e11 {
		ts = time.UnixMilli(n).UTC()
	} else {
		ts = time.Unix(n, 0).UTC()
	}
	return &ts
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
