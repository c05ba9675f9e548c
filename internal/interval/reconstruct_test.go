package interval

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borrow-analytics-backend/internal/event"
)

var day = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func ev(item string, a event.Action, ts time.Time, seq int) event.Event {
	return event.Event{ItemKey: item, Action: a, Timestamp: ts, Category: "Cameras", SourceTag: "Fall 2025", Seq: seq}
}

func out(item string, ts time.Time, seq int) event.Event {
	return ev(item, event.ActionCheckOut, ts, seq)
}

func in(item string, ts time.Time, seq int) event.Event {
	return ev(item, event.ActionCheckIn, ts, seq)
}

func TestReconstruct_Scenarios(t *testing.T) {
	testCases := []struct {
		name     string
		events   []event.Event
		expected []Interval
		report   Report
	}{
		{
			name:   "No events",
			events: nil,
			report: Report{},
		},
		{
			name:   "Single closed borrow",
			events: []event.Event{out("CAM-01", at(10, 0), 0), in("CAM-01", at(15, 0), 1)},
			expected: []Interval{
				NewClosed("CAM-01", "Cameras", at(10, 0), at(15, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Closed: 1},
		},
		{
			name: "Concurrent borrows pair FIFO",
			events: []event.Event{
				out("CAM-01", at(9, 0), 0), out("CAM-01", at(10, 0), 1),
				in("CAM-01", at(11, 0), 2), in("CAM-01", at(12, 0), 3),
			},
			expected: []Interval{
				NewClosed("CAM-01", "Cameras", at(9, 0), at(11, 0), SourceRealtime, "Fall 2025"),
				NewClosed("CAM-01", "Cameras", at(10, 0), at(12, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Closed: 2},
		},
		{
			name:   "Only check-outs stay open",
			events: []event.Event{out("CAM-01", at(9, 0), 0), out("CAM-01", at(10, 0), 1)},
			expected: []Interval{
				NewOpen("CAM-01", "Cameras", at(9, 0), SourceRealtime, "Fall 2025"),
				NewOpen("CAM-01", "Cameras", at(10, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Open: 2},
		},
		{
			name: "Orphan check-in is discarded",
			events: []event.Event{
				in("CAM-01", at(8, 0), 0),
				out("CAM-01", at(9, 0), 1), in("CAM-01", at(10, 0), 2),
			},
			expected: []Interval{
				NewClosed("CAM-01", "Cameras", at(9, 0), at(10, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Closed: 1, Orphans: 1},
		},
		{
			name: "Unsorted input is sorted per item",
			events: []event.Event{
				in("B", at(12, 0), 0), out("A", at(9, 0), 1),
				out("B", at(10, 0), 2), in("A", at(9, 30), 3), out("A", at(13, 0), 4),
			},
			expected: []Interval{
				NewClosed("A", "Cameras", at(9, 0), at(9, 30), SourceRealtime, "Fall 2025"),
				NewOpen("A", "Cameras", at(13, 0), SourceRealtime, "Fall 2025"),
				NewClosed("B", "Cameras", at(10, 0), at(12, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Closed: 2, Open: 1},
		},
		{
			name: "Timestamp tie keeps ingestion order",
			events: []event.Event{
				out("A", at(9, 0), 0), in("A", at(9, 0), 1),
			},
			expected: []Interval{
				NewClosed("A", "Cameras", at(9, 0), at(9, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Closed: 1},
		},
		{
			name: "Timestamp tie with check-in first is an orphan",
			events: []event.Event{
				in("A", at(9, 0), 0), out("A", at(9, 0), 1),
			},
			expected: []Interval{
				NewOpen("A", "Cameras", at(9, 0), SourceRealtime, "Fall 2025"),
			},
			report: Report{Open: 1, Orphans: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := Reconstruct(tc.events, SourceRealtime)
			assert.Equal(t, tc.expected, res.Intervals)
			assert.Equal(t, tc.report, res.Report)
		})
	}
}

func TestReconstruct_Duration(t *testing.T) {
	res := Reconstruct([]event.Event{out("CAM-01", at(10, 0), 0), in("CAM-01", at(15, 0), 1)}, SourceRealtime)
	require.Len(t, res.Intervals, 1)
	d, ok := res.Intervals[0].Duration()
	assert.True(t, ok)
	assert.Equal(t, 5, d)

	// 2h29m rounds down, 2h31m rounds up, 2h30m goes to the even hour
	assert.Equal(t, 2, RoundHours(149*time.Minute))
	assert.Equal(t, 3, RoundHours(151*time.Minute))
	assert.Equal(t, 2, RoundHours(150*time.Minute))
	assert.Equal(t, 4, RoundHours(210*time.Minute))

	open := NewOpen("CAM-01", "Cameras", at(10, 0), SourceRealtime, "")
	_, ok = open.Duration()
	assert.False(t, ok)
	assert.True(t, open.IsOpen())
}

func TestReconstruct_RoundTripAlternation(t *testing.T) {
	var events []event.Event
	for i := 0; i < 6; i++ {
		start := day.Add(time.Duration(i) * 24 * time.Hour)
		events = append(events, out("TRI 3", start, 2*i), in("TRI 3", start.Add(time.Duration(i+1)*time.Hour), 2*i+1))
	}

	res := Reconstruct(events, SourceRealtime)
	require.Len(t, res.Intervals, 6)
	for i, iv := range res.Intervals {
		assert.False(t, iv.IsOpen())
		d, ok := iv.Duration()
		assert.True(t, ok)
		assert.Equal(t, i+1, d)
		assert.Equal(t, time.Duration(i+1)*time.Hour, iv.End.Sub(iv.Start))
	}
}

func TestReconstruct_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	items := []string{"A", "B", "C"}

	for round := 0; round < 50; round++ {
		var events []event.Event
		checkOuts := 0
		for i := 0; i < 30; i++ {
			item := items[rng.Intn(len(items))]
			a := event.ActionCheckIn
			if rng.Intn(2) == 0 {
				a = event.ActionCheckOut
				checkOuts++
			}
			events = append(events, ev(item, a, at(rng.Intn(20), 0).Add(time.Duration(i)*time.Second), i))
		}

		res := Reconstruct(events, SourceRealtime)
		assert.LessOrEqual(t, res.Report.Closed, checkOuts)
		assert.Equal(t, checkOuts, res.Report.Closed+res.Report.Open)
		assert.Equal(t, res.Report.Closed+res.Report.Open, len(res.Intervals))

		// ordering of the input slice does not matter
		shuffled := append([]event.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, res, Reconstruct(shuffled, SourceRealtime))

		for _, iv := range res.Intervals {
			if iv.End != nil {
				assert.False(t, iv.End.Before(iv.Start))
			}
		}
	}
}

func TestReconstructParallel_MatchesSequential(t *testing.T) {
	var events []event.Event
	seq := 0
	for i := 0; i < 40; i++ {
		item := []string{"CAM 1", "CAM 2", "MIC 7", "TRI 10"}[i%4]
		events = append(events, out(item, at(i%12, i), seq))
		seq++
		if i%3 != 0 {
			events = append(events, in(item, at(i%12+1, i), seq))
			seq++
		}
	}

	want := Reconstruct(events, SourceRealtime)
	got, err := ReconstructParallel(context.Background(), events, SourceRealtime, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReconstructParallel(ctx, events, SourceRealtime, 4)
	assert.ErrorIs(t, err, context.Canceled)
}
