package parse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var shortYearRe = regexp.MustCompile(`^(\d{2})/(\d{1,2})/(\d{1,2})$`)

// DateBound parses a user-supplied date filter such as "2025-01-31",
// "2025.1.31" or "25/1/31" into midnight of that day in loc.
func DateBound(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.UTC
	}

	// 0) separators: "." and "-" are both read as "/"
	s = strings.NewReplacer(".", "/", "-", "/").Replace(s)

	// 1) two-digit years belong to this century
	if m := shortYearRe.FindStringSubmatch(s); m != nil {
		s = "20" + m[1] + "/" + m[2] + "/" + m[3]
	}

	t, err := time.ParseInLocation("2006/1/2", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse date %q: %w", raw, err)
	}
	return t, nil
}
