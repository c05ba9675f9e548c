// Package ranking ranks items by borrow activity and buckets the winners'
// borrows into calendar periods.
package ranking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/parse"
	"borrow-analytics-backend/internal/query"
)

var (
	// ErrNoData means nothing was left to rank after filtering.
	ErrNoData = errors.New("ranking: no data")
	// ErrNoDurationData means a duration metric was requested but no
	// interval in range carries a duration.
	ErrNoDurationData = errors.New("ranking: no duration data")
	ErrInvalidK       = errors.New("ranking: k must be at least 1")
	ErrUnknownMetric  = errors.New("ranking: unknown metric")
	ErrUnknownPeriod  = errors.New("ranking: unknown period")
)

// Metric is what items are ranked by.
type Metric string

const (
	MetricCount           Metric = "count"
	MetricTotalDuration   Metric = "total_duration"
	MetricAverageDuration Metric = "average_duration"
)

// ParseMetric accepts the metric names with "-", "_" or spaces; empty means count.
func ParseMetric(s string) (Metric, error) {
	norm := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch m := Metric(norm); m {
	case "":
		return MetricCount, nil
	case MetricCount, MetricTotalDuration, MetricAverageDuration:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

func (m Metric) usesDuration() bool {
	return m == MetricTotalDuration || m == MetricAverageDuration
}

// Period is the bucket width of the count matrix.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod reads a period name; empty means month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// Truncate returns the first instant of the period containing t, in t's
// location. Weeks start on Monday.
func (p Period) Truncate(t time.Time) (time.Time, error) {
	y, m, d := t.Date()
	loc := t.Location()
	switch p {
	case PeriodDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	case PeriodWeek:
		back := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, loc), nil
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), nil
	case PeriodYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, string(p))
}

// Options configures TopK.
type Options struct {
	Metric Metric
	K      int
	Period Period
	Range  query.DateRange
}

// Ranked is one item in the result, best first.
type Ranked struct {
	ItemKey string  `json:"item_key"`
	Value   float64 `json:"value"`
	Count   int     `json:"count"`
}

// Bucket holds per-item borrow counts for one period. Counts is aligned
// with RankedSeries.Items.
type Bucket struct {
	Start  time.Time `json:"start"`
	Counts []int     `json:"counts"`
}

// RankedSeries is the ranking plus its period matrix.
type RankedSeries struct {
	Metric  Metric   `json:"metric"`
	Period  Period   `json:"period"`
	Items   []Ranked `json:"items"`
	Buckets []Bucket `json:"buckets"`
}

// Keys returns the ranked item keys in order.
func (r RankedSeries) Keys() []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.ItemKey)
	}
	return out
}

type acc struct {
	count int
	hours int
}

// TopK ranks item keys by opts.Metric, highest first, ties by natural key
// order, and buckets the top K items' borrows by opts.Period. Count ranks
// every interval including open ones; the duration metrics first drop
// intervals without a duration.
func TopK(ivs []interval.Interval, opts Options) (RankedSeries, error) {
	if opts.K < 1 {
		return RankedSeries{}, ErrInvalidK
	}
	if opts.Metric == "" {
		opts.Metric = MetricCount
	}
	if opts.Period == "" {
		opts.Period = PeriodMonth
	}
	if _, err := ParseMetric(string(opts.Metric)); err != nil {
		return RankedSeries{}, err
	}
	if _, err := opts.Period.Truncate(time.Time{}); err != nil {
		return RankedSeries{}, err
	}

	ivs = opts.Range.Apply(ivs)
	if len(ivs) == 0 {
		return RankedSeries{}, ErrNoData
	}
	if opts.Metric.usesDuration() {
		kept := make([]interval.Interval, 0, len(ivs))
		for _, iv := range ivs {
			if _, ok := iv.Duration(); ok {
				kept = append(kept, iv)
			}
		}
		if len(kept) == 0 {
			return RankedSeries{}, ErrNoDurationData
		}
		ivs = kept
	}

	per := make(map[string]*acc)
	for _, iv := range ivs {
		a := per[iv.ItemKey]
		if a == nil {
			a = &acc{}
			per[iv.ItemKey] = a
		}
		a.count++
		if h, ok := iv.Duration(); ok {
			a.hours += h
		}
	}

	ranked := make([]Ranked, 0, len(per))
	for k, a := range per {
		ranked = append(ranked, Ranked{ItemKey: k, Value: value(opts.Metric, a), Count: a.count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return parse.CompareNatural(ranked[i].ItemKey, ranked[j].ItemKey) < 0
	})
	if len(ranked) > opts.K {
		ranked = ranked[:opts.K]
	}

	buckets, err := bucketize(ivs, ranked, opts.Period)
	if err != nil {
		return RankedSeries{}, err
	}
	return RankedSeries{Metric: opts.Metric, Period: opts.Period, Items: ranked, Buckets: buckets}, nil
}

func value(m Metric, a *acc) float64 {
	switch m {
	case MetricTotalDuration:
		return float64(a.hours)
	case MetricAverageDuration:
		return float64(a.hours) / float64(a.count)
	}
	return float64(a.count)
}

func bucketize(ivs []interval.Interval, ranked []Ranked, p Period) ([]Bucket, error) {
	col := make(map[string]int, len(ranked))
	for i, r := range ranked {
		col[r.ItemKey] = i
	}

	rows := make(map[int64]*Bucket)
	for _, iv := range ivs {
		c, ok := col[iv.ItemKey]
		if !ok {
			continue
		}
		start, err := p.Truncate(iv.Start)
		if err != nil {
			return nil, err
		}
		b := rows[start.Unix()]
		if b == nil {
			b = &Bucket{Start: start, Counts: make([]int, len(ranked))}
			rows[start.Unix()] = b
		}
		b.Counts[c]++
	}

	out := make([]Bucket, 0, len(rows))
	for _, b := range rows {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
