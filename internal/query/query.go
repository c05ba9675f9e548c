// Package query holds the filters shared by the store and the HTTP layer.
package query

import (
	"fmt"
	"strings"
	"time"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/parse"
)

// Mode selects which sources a query reads.
type Mode string

const (
	ModeAll        Mode = "all"
	ModeRealtime   Mode = "realtime"
	ModeHistorical Mode = "historical"
)

// ParseMode reads a mode name; empty means ModeAll.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAll, nil
	case ModeAll, ModeRealtime, ModeHistorical:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Sources returns the interval sources the mode covers.
func (m Mode) Sources() []interval.Source {
	switch m {
	case ModeRealtime:
		return []interval.Source{interval.SourceRealtime}
	case ModeHistorical:
		return []interval.Source{interval.SourceHistorical}
	}
	return []interval.Source{interval.SourceHistorical, interval.SourceRealtime}
}

// DateRange bounds interval starts. Zero bounds are open. To covers the whole
// calendar day it names.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange builds a range from user strings; empty strings leave that side open.
func ParseDateRange(from, to string, loc *time.Location) (DateRange, error) {
	var r DateRange
	if strings.TrimSpace(from) != "" {
		t, err := parse.DateBound(from, loc)
		if err != nil {
			return r, fmt.Errorf("start: %w", err)
		}
		r.From = t
	}
	if strings.TrimSpace(to) != "" {
		t, err := parse.DateBound(to, loc)
		if err != nil {
			return r, fmt.Errorf("end: %w", err)
		}
		r.To = t
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, fmt.Errorf("end %s is before start %s", to, from)
	}
	return r, nil
}

// IsZero reports whether both sides are open.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t falls in the range. The end day is inclusive.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// Apply keeps the intervals whose start lies in the range.
func (r DateRange) Apply(ivs []interval.Interval) []interval.Interval {
	if r.IsZero() {
		return ivs
	}
	return filter(ivs, func(iv interval.Interval) bool { return r.Contains(iv.Start) })
}

// FilterCategory keeps one category; an empty or "all" category keeps everything.
func FilterCategory(ivs []interval.Interval, category string) []interval.Interval {
	if category == "" || strings.EqualFold(category, "all") {
		return ivs
	}
	return filter(ivs, func(iv interval.Interval) bool { return iv.Category == category })
}

// FilterItem keeps one exact item key.
func FilterItem(ivs []interval.Interval, itemKey string) []interval.Interval {
	return filter(ivs, func(iv interval.Interval) bool { return iv.ItemKey == itemKey })
}

// FilterItemName keeps every unit of an item name, ignoring unit numbers.
func FilterItemName(ivs []interval.Interval, name string) []interval.Interval {
	if name == "" {
		return ivs
	}
	want := parse.ItemName(name)
	return filter(ivs, func(iv interval.Interval) bool { return parse.ItemName(iv.ItemKey) == want })
}

// ExcludeTags drops intervals whose source tag is listed.
func ExcludeTags(ivs []interval.Interval, tags ...string) []interval.Interval {
	if len(tags) == 0 {
		return ivs
	}
	skip := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		skip[t] = struct{}{}
	}
	return filter(ivs, func(iv interval.Interval) bool {
		_, ok := skip[iv.SourceTag]
		return !ok
	})
}

func filter(ivs []interval.Interval, keep func(interval.Interval) bool) []interval.Interval {
	out := make([]interval.Interval, 0, len(ivs))
	for _, iv := range ivs {
		if keep(iv) {
			out = append(out, iv)
		}
	}
	return out
}
