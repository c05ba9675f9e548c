package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borrow-analytics-backend/internal/interval"
)

func ts(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

func closed(start, end time.Time) interval.Interval {
	return interval.NewClosed("CAM-01", "Cameras", start, end, interval.SourceRealtime, "Fall 2025")
}

func open(start time.Time) interval.Interval {
	return interval.NewOpen("CAM-01", "Cameras", start, interval.SourceRealtime, "Fall 2025")
}

func statuses(s Series) []int {
	out := make([]int, 0, len(s.Points))
	for _, p := range s.Points {
		out = append(out, p.Status)
	}
	return out
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, Continuous, g)

	g, err = ParseGranularity(" Daily ")
	require.NoError(t, err)
	assert.Equal(t, Daily, g)

	_, err = ParseGranularity("hourly")
	assert.Error(t, err)
}

func TestEmptyIntervalsSignalNoData(t *testing.T) {
	for _, g := range []Granularity{Continuous, Daily} {
		s, err := Build(nil, g, ts(1, 0, 0))
		assert.ErrorIs(t, err, ErrNoData, g.String())
		assert.Empty(t, s.Points)
	}
}

func TestContinuousSeries(t *testing.T) {
	testCases := []struct {
		name     string
		ivs      []interval.Interval
		asOf     time.Time
		expected []Point
	}{
		{
			name: "Single closed borrow",
			ivs:  []interval.Interval{closed(ts(1, 10, 0), ts(1, 15, 0))},
			asOf: ts(2, 0, 0),
			expected: []Point{
				{At: ts(1, 10, 0), Status: 1},
				{At: ts(1, 15, 0), Status: 0},
			},
		},
		{
			name: "Overlapping borrows stay occupied until the last end",
			ivs: []interval.Interval{
				closed(ts(1, 9, 0), ts(1, 11, 0)),
				closed(ts(1, 10, 0), ts(1, 12, 0)),
			},
			asOf: ts(2, 0, 0),
			expected: []Point{
				{At: ts(1, 9, 0), Status: 1},
				{At: ts(1, 10, 0), Status: 1},
				{At: ts(1, 11, 0), Status: 1},
				{At: ts(1, 12, 0), Status: 0},
			},
		},
		{
			name: "Back to back borrows apply the start first",
			ivs: []interval.Interval{
				closed(ts(1, 11, 0), ts(1, 12, 0)),
				closed(ts(1, 9, 0), ts(1, 11, 0)),
			},
			asOf: ts(2, 0, 0),
			expected: []Point{
				{At: ts(1, 9, 0), Status: 1},
				{At: ts(1, 11, 0), Status: 1},
				{At: ts(1, 11, 0), Status: 1},
				{At: ts(1, 12, 0), Status: 0},
			},
		},
		{
			name: "Open borrow ends at asOf",
			ivs:  []interval.Interval{open(ts(1, 10, 0))},
			asOf: ts(3, 8, 0),
			expected: []Point{
				{At: ts(1, 10, 0), Status: 1},
				{At: ts(3, 8, 0), Status: 0},
			},
		},
		{
			name: "asOf before an open start is clamped to the start",
			ivs:  []interval.Interval{open(ts(5, 10, 0))},
			asOf: ts(1, 0, 0),
			expected: []Point{
				{At: ts(5, 10, 0), Status: 1},
				{At: ts(5, 10, 0), Status: 0},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ContinuousSeries(tc.ivs, tc.asOf)
			require.NoError(t, err)
			assert.Equal(t, Continuous, s.Granularity)
			assert.Equal(t, tc.expected, s.Points)
		})
	}
}

func TestDailySeries(t *testing.T) {
	testCases := []struct {
		name     string
		ivs      []interval.Interval
		asOf     time.Time
		firstDay time.Time
		statuses []int
	}{
		{
			name:     "Same-day borrow marks the day",
			ivs:      []interval.Interval{closed(ts(1, 10, 0), ts(1, 15, 0))},
			asOf:     ts(10, 0, 0),
			firstDay: ts(1, 0, 0),
			statuses: []int{1},
		},
		{
			name:     "Multi-day borrow",
			ivs:      []interval.Interval{closed(ts(1, 22, 0), ts(3, 9, 0))},
			asOf:     ts(10, 0, 0),
			firstDay: ts(1, 0, 0),
			statuses: []int{1, 1, 1},
		},
		{
			name: "Gap between borrows",
			ivs: []interval.Interval{
				closed(ts(1, 9, 0), ts(1, 10, 0)),
				closed(ts(4, 9, 0), ts(4, 10, 0)),
			},
			asOf:     ts(10, 0, 0),
			firstDay: ts(1, 0, 0),
			statuses: []int{1, 0, 0, 1},
		},
		{
			name:     "Check-in exactly at midnight frees the new day",
			ivs:      []interval.Interval{closed(ts(1, 10, 0), ts(2, 0, 0))},
			asOf:     ts(10, 0, 0),
			firstDay: ts(1, 0, 0),
			statuses: []int{1, 0},
		},
		{
			name:     "Check-out exactly at midnight occupies that day",
			ivs:      []interval.Interval{closed(ts(2, 0, 0), ts(2, 1, 0))},
			asOf:     ts(10, 0, 0),
			firstDay: ts(2, 0, 0),
			statuses: []int{1},
		},
		{
			name:     "Open borrow runs to asOf",
			ivs:      []interval.Interval{open(ts(1, 10, 0))},
			asOf:     ts(4, 12, 0),
			firstDay: ts(1, 0, 0),
			statuses: []int{1, 1, 1, 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := DailySeries(tc.ivs, tc.asOf)
			require.NoError(t, err)
			assert.Equal(t, tc.statuses, statuses(s))
			require.NotEmpty(t, s.Points)
			assert.Equal(t, tc.firstDay, s.Points[0].At)
			for i := 1; i < len(s.Points); i++ {
				assert.Equal(t, s.Points[i-1].At.AddDate(0, 0, 1), s.Points[i].At)
			}
		})
	}
}

func TestDailySeries_UsesIntervalLocation(t *testing.T) {
	loc := time.FixedZone("CST", -6*60*60)
	// 2025-01-02 03:00 UTC is still January 1st in loc
	start := time.Date(2025, 1, 1, 21, 0, 0, 0, loc)
	iv := interval.NewClosed("CAM-01", "Cameras", start, start.Add(2*time.Hour), interval.SourceRealtime, "")

	s, err := DailySeries([]interval.Interval{iv}, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, loc), s.Points[0].At)
}

func TestDailySeries_ClosingBalanceImpliesOccupied(t *testing.T) {
	ivs := []interval.Interval{
		closed(ts(1, 8, 0), ts(3, 12, 0)),
		closed(ts(2, 9, 0), ts(2, 10, 0)),
		closed(ts(5, 23, 0), ts(7, 0, 0)),
		open(ts(8, 6, 0)),
	}
	asOf := ts(9, 18, 0)
	deltas := Deltas(ivs, asOf)

	s, err := DailySeries(ivs, asOf)
	require.NoError(t, err)
	for _, p := range s.Points {
		endOfDay := p.At.AddDate(0, 0, 1).Add(-time.Nanosecond)
		if StatusAt(deltas, endOfDay) == 1 {
			assert.Equal(t, 1, p.Status, p.At.String())
		}
	}

	// occupied at close and no check-in during the next day: next day stays occupied
	for i := 0; i+1 < len(s.Points); i++ {
		next := s.Points[i+1].At
		endOfDay := next.Add(-time.Nanosecond)
		if StatusAt(deltas, endOfDay) == 0 || hasCheckIn(deltas, next, next.AddDate(0, 0, 1)) {
			continue
		}
		assert.Equal(t, 1, s.Points[i+1].Status, next.String())
	}
}

func hasCheckIn(deltas []Delta, from, to time.Time) bool {
	for _, d := range deltas {
		if d.Value < 0 && !d.At.Before(from) && d.At.Before(to) {
			return true
		}
	}
	return false
}

func TestStatusAt(t *testing.T) {
	deltas := Deltas([]interval.Interval{closed(ts(1, 10, 0), ts(1, 15, 0))}, ts(2, 0, 0))

	assert.Equal(t, 0, StatusAt(deltas, ts(1, 9, 59)))
	assert.Equal(t, 1, StatusAt(deltas, ts(1, 10, 0)))
	assert.Equal(t, 1, StatusAt(deltas, ts(1, 14, 59)))
	assert.Equal(t, 0, StatusAt(deltas, ts(1, 15, 0)))
	assert.Equal(t, 0, StatusAt(nil, ts(1, 15, 0)))
}

func TestDailySeries_SameDayBorrowWithZeroClosingBalance(t *testing.T) {
	ivs := []interval.Interval{closed(ts(1, 10, 0), ts(1, 15, 0))}
	endOfDay := ts(2, 0, 0).Add(-time.Second)

	assert.Equal(t, 0, StatusAt(Deltas(ivs, ts(10, 0, 0)), endOfDay))

	series, err := DailySeries(ivs, ts(10, 0, 0))
	require.NoError(t, err)
	require.Len(t, series.Points, 1)
	assert.Equal(t, 1, series.Points[0].Status)
}
