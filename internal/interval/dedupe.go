package interval

import "time"

type matchKey struct {
	itemKey string
	start   int64
}

func keyOf(iv Interval) matchKey {
	return matchKey{itemKey: iv.ItemKey, start: iv.Start.Truncate(time.Minute).Unix()}
}

// Deduplicate returns the candidate intervals that have no counterpart in
// historical. Two intervals are the same borrow when item key and start
// (truncated to the minute) match. Historical always wins; neither input is modified.
func Deduplicate(historical, candidate []Interval) []Interval {
	seen := make(map[matchKey]struct{}, len(historical))
	for _, iv := range historical {
		seen[keyOf(iv)] = struct{}{}
	}

	out := make([]Interval, 0, len(candidate))
	for _, iv := range candidate {
		if _, dup := seen[keyOf(iv)]; dup {
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Merge concatenates historical with the deduplicated candidate set.
func Merge(historical, candidate []Interval) []Interval {
	kept := Deduplicate(historical, candidate)
	out := make([]Interval, 0, len(historical)+len(kept))
	out = append(out, historical...)
	out = append(out, kept...)
	Sort(out)
	return out
}
