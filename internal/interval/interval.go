// Package interval reconstructs borrow intervals from check-out/check-in
// events and merges interval sets coming from different sources.
package interval

import (
	"math"
	"sort"
	"time"
)

// Source identifies where an interval set came from.
type Source string

const (
	SourceHistorical Source = "historical"
	SourceRealtime   Source = "realtime"
)

// Interval is one reconstructed borrow. End is nil while the item is still
// checked out; DurationHours is nil exactly when End is nil or the source
// recorded no duration.
type Interval struct {
	ItemKey       string
	Category      string
	Start         time.Time
	End           *time.Time
	DurationHours *int
	Source        Source
	SourceTag     string
}

// NewClosed builds a closed interval and derives its duration.
func NewClosed(itemKey, category string, start, end time.Time, src Source, tag string) Interval {
	e := end
	d := RoundHours(end.Sub(start))
	return Interval{
		ItemKey:       itemKey,
		Category:      category,
		Start:         start,
		End:           &e,
		DurationHours: &d,
		Source:        src,
		SourceTag:     tag,
	}
}

// NewOpen builds an interval for an item that has not been checked back in.
func NewOpen(itemKey, category string, start time.Time, src Source, tag string) Interval {
	return Interval{
		ItemKey:   itemKey,
		Category:  category,
		Start:     start,
		Source:    src,
		SourceTag: tag,
	}
}

// IsOpen reports whether the borrow has no recorded end.
func (iv Interval) IsOpen() bool {
	return iv.End == nil
}

// Duration returns the rounded duration in hours and whether one exists.
func (iv Interval) Duration() (int, bool) {
	if iv.DurationHours == nil {
		return 0, false
	}
	return *iv.DurationHours, true
}

// EndOr returns the recorded end, or asOf for an open interval. The result
// never precedes Start.
func (iv Interval) EndOr(asOf time.Time) time.Time {
	if iv.End != nil {
		return *iv.End
	}
	if asOf.Before(iv.Start) {
		return iv.Start
	}
	return asOf
}

// In returns a copy with all instants expressed in loc.
func (iv Interval) In(loc *time.Location) Interval {
	out := iv
	out.Start = iv.Start.In(loc)
	if iv.End != nil {
		e := iv.End.In(loc)
		out.End = &e
	}
	return out
}

// RoundHours converts d to whole hours, rounding half to even.
func RoundHours(d time.Duration) int {
	return int(math.RoundToEven(d.Hours()))
}

// Sort orders intervals by item key, start, then end with open intervals last.
func Sort(ivs []Interval) {
	sort.SliceStable(ivs, func(i, j int) bool {
		a, b := ivs[i], ivs[j]
		if a.ItemKey != b.ItemKey {
			return a.ItemKey < b.ItemKey
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		switch {
		case a.End == nil:
			return false
		case b.End == nil:
			return true
		}
		return a.End.Before(*b.End)
	})
}
