package interval

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"borrow-analytics-backend/internal/event"
)

// Report counts the outcome of a reconstruction.
type Report struct {
	Closed  int
	Open    int
	Orphans int
}

func (r *Report) add(o Report) {
	r.Closed += o.Closed
	r.Open += o.Open
	r.Orphans += o.Orphans
}

// Result is a reconstructed interval set plus its report.
type Result struct {
	Intervals []Interval
	Report    Report
}

// Partition groups events by item key. The returned keys are sorted.
func Partition(events []event.Event) ([]string, map[string][]event.Event) {
	groups := make(map[string][]event.Event)
	for _, ev := range events {
		groups[ev.ItemKey] = append(groups[ev.ItemKey], ev)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}

// Reconstruct pairs check-outs with check-ins per item. Events need not be
// sorted; each item's events are ordered by timestamp, ties by Seq.
func Reconstruct(events []event.Event, src Source) Result {
	keys, groups := Partition(events)
	var res Result
	for _, k := range keys {
		ivs, rep := ReconstructItem(groups[k], src)
		res.Intervals = append(res.Intervals, ivs...)
		res.Report.add(rep)
	}
	Sort(res.Intervals)
	return res
}

// ReconstructParallel is Reconstruct with items spread over at most workers
// goroutines. The output is identical to Reconstruct.
func ReconstructParallel(ctx context.Context, events []event.Event, src Source, workers int) (Result, error) {
	if workers <= 1 {
		return Reconstruct(events, src), nil
	}

	keys, groups := Partition(events)
	parts := make([][]Interval, len(keys))
	reports := make([]Report, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, k := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			parts[i], reports[i] = ReconstructItem(groups[k], src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	for i := range keys {
		res.Intervals = append(res.Intervals, parts[i]...)
		res.Report.add(reports[i])
	}
	Sort(res.Intervals)
	return res, nil
}

// ReconstructItem applies strict FIFO pairing to the events of one item:
// a check-in closes the oldest open check-out, a check-in with nothing open
// is an orphan and is discarded, and check-outs left over become open intervals.
func ReconstructItem(events []event.Event, src Source) ([]Interval, Report) {
	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})

	var (
		out   []Interval
		rep   Report
		queue []event.Event
	)
	for _, ev := range sorted {
		switch ev.Action {
		case event.ActionCheckOut:
			queue = append(queue, ev)
		case event.ActionCheckIn:
			if len(queue) == 0 {
				rep.Orphans++
				continue
			}
			co := queue[0]
			queue = queue[1:]
			out = append(out, NewClosed(co.ItemKey, co.Category, co.Timestamp, ev.Timestamp, src, co.SourceTag))
			rep.Closed++
		}
	}
	for _, co := range queue {
		out = append(out, NewOpen(co.ItemKey, co.Category, co.Timestamp, src, co.SourceTag))
		rep.Open++
	}
	return out, rep
}
