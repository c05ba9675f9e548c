// Package timeline turns the borrow intervals of one item into an occupancy
// step function, either at exact event instants or one value per calendar day.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"borrow-analytics-backend/internal/interval"
)

// ErrNoData is returned when there are no intervals to build a timeline from.
// It is an empty-state outcome, not a failure.
var ErrNoData = errors.New("timeline: no data")

// Granularity selects the timeline form.
type Granularity int

const (
	Continuous Granularity = iota
	Daily
)

func (g Granularity) String() string {
	switch g {
	case Continuous:
		return "continuous"
	case Daily:
		return "daily"
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// ParseGranularity reads "continuous" or "daily". An empty string means continuous.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous":
		return Continuous, nil
	case "daily", "day":
		return Daily, nil
	}
	return 0, fmt.Errorf("unknown granularity %q", s)
}

// Delta is +1 at a borrow start and -1 at its end.
type Delta struct {
	At    time.Time
	Value int
}

// Point is the occupancy status (0 available, 1 checked out) from At onwards.
// For daily series At is the start of the day.
type Point struct {
	At     time.Time `json:"at"`
	Status int       `json:"status"`
}

// Series is a synthesized timeline.
type Series struct {
	Granularity Granularity `json:"-"`
	AsOf        time.Time   `json:"as_of"`
	Points      []Point     `json:"points"`
}

// Deltas builds the sorted delta list for ivs. Open intervals end at asOf.
// At equal instants starts sort before ends, so a borrow that ends exactly
// when another begins yields a momentary 1 rather than a gap.
func Deltas(ivs []interval.Interval, asOf time.Time) []Delta {
	out := make([]Delta, 0, 2*len(ivs))
	for _, iv := range ivs {
		out = append(out,
			Delta{At: iv.Start, Value: 1},
			Delta{At: iv.EndOr(asOf.In(iv.Start.Location())), Value: -1},
		)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Value > out[j].Value
	})
	return out
}

// StatusAt is the prefix sum of all deltas at or before t, clamped to 0/1.
func StatusAt(deltas []Delta, t time.Time) int {
	sum := 0
	for _, d := range deltas {
		if d.At.After(t) {
			break
		}
		sum += d.Value
	}
	return status(sum)
}

// Build dispatches to Continuous or Daily.
func Build(ivs []interval.Interval, g Granularity, asOf time.Time) (Series, error) {
	switch g {
	case Continuous:
		return ContinuousSeries(ivs, asOf)
	case Daily:
		return DailySeries(ivs, asOf)
	}
	return Series{}, fmt.Errorf("unknown granularity %v", g)
}

// ContinuousSeries emits one point per delta carrying the status after that
// delta is applied.
func ContinuousSeries(ivs []interval.Interval, asOf time.Time) (Series, error) {
	if len(ivs) == 0 {
		return Series{Granularity: Continuous, AsOf: asOf}, ErrNoData
	}
	deltas := Deltas(ivs, asOf)
	points := make([]Point, 0, len(deltas))
	sum := 0
	for _, d := range deltas {
		sum += d.Value
		points = append(points, Point{At: d.At, Status: status(sum)})
	}
	return Series{Granularity: Continuous, AsOf: asOf, Points: points}, nil
}

// DailySeries emits one point per calendar day from the first to the last
// delta. A day is 1 when the item was checked out at any instant between its
// first and last instant; this includes every day whose closing balance is
// positive. A borrow that starts and ends on the same day has a closing
// balance of 0 but still marks that day 1. Deltas at the same instant are applied together, so a check-in at
// exactly midnight frees the new day and leaves the previous one occupied.
// Days are those of the location of the first interval start.
func DailySeries(ivs []interval.Interval, asOf time.Time) (Series, error) {
	if len(ivs) == 0 {
		return Series{Granularity: Daily, AsOf: asOf}, ErrNoData
	}
	deltas := Deltas(ivs, asOf)
	loc := deltas[0].At.Location()
	first := startOfDay(deltas[0].At, loc)
	last := startOfDay(deltas[len(deltas)-1].At, loc)

	var (
		points []Point
		sum    int
		i      int
	)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		for i < len(deltas) && !deltas[i].At.After(day) {
			sum += deltas[i].Value
			i++
		}
		busy := sum > 0
		for i < len(deltas) && deltas[i].At.Before(next) {
			at := deltas[i].At
			for i < len(deltas) && deltas[i].At.Equal(at) {
				sum += deltas[i].Value
				i++
			}
			if sum > 0 {
				busy = true
			}
		}
		p := Point{At: day}
		if busy {
			p.Status = 1
		}
		points = append(points, p)
	}
	return Series{Granularity: Daily, AsOf: asOf, Points: points}, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func status(sum int) int {
	if sum > 0 {
		return 1
	}
	return 0
}
