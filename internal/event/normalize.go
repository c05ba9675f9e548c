package event

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LiveLayout is the timestamp layout of the live check-out log.
const LiveLayout = "01/02/2006 15:04:05"

// UnknownCategory is assigned when no category could be resolved.
const UnknownCategory = "Unknown"

// DropReason says why a raw record was rejected.
type DropReason string

const (
	DropMissingField  DropReason = "missing_field"
	DropBadTimestamp  DropReason = "bad_timestamp"
	DropUnknownAction DropReason = "unknown_action"
)

// Report counts what happened to a batch during normalisation.
type Report struct {
	Accepted int
	Dropped  map[DropReason]int
}

// DroppedTotal is the number of rejected records over all reasons.
func (r Report) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

func (r *Report) drop(reason DropReason) {
	if r.Dropped == nil {
		r.Dropped = make(map[DropReason]int)
	}
	r.Dropped[reason]++
}

// Normalizer validates raw records and parses their timestamps with a single
// declared layout. Invalid records are logged and dropped, never returned as errors.
type Normalizer struct {
	layout string
	loc    *time.Location
	logger zerolog.Logger
}

// NewNormalizer creates a normalizer for one source format.
func NewNormalizer(layout string, loc *time.Location, logger zerolog.Logger) *Normalizer {
	if layout == "" {
		layout = LiveLayout
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{layout: layout, loc: loc, logger: logger}
}

// ParseTimestamp parses s with the normalizer's layout. A failure yields the
// zero time, which callers treat as invalid.
func (n *Normalizer) ParseTimestamp(s string) time.Time {
	t, err := time.ParseInLocation(n.layout, strings.TrimSpace(s), n.loc)
	if err != nil {
		return time.Time{}
	}
	return t.Truncate(time.Second)
}

// Normalize converts batches into events. Seq numbers continue across
// batches so the result keeps global ingestion order.
func (n *Normalizer) Normalize(batches ...Batch) ([]Event, Report) {
	var (
		events []Event
		report Report
		seq    int
	)
	for _, b := range batches {
		before := report
		before.Dropped = copyCounts(report.Dropped)
		for i, rec := range b.Records {
			ev, reason, ok := n.normalizeRecord(rec, b.SourceTag)
			if !ok {
				report.drop(reason)
				n.logger.Debug().
					Str("source_tag", b.SourceTag).
					Int("row", i).
					Str("reason", string(reason)).
					Str("item", rec.ItemKey).
					Str("time", rec.Time).
					Msg("dropping raw record")
				continue
			}
			ev.Seq = seq
			seq++
			events = append(events, ev)
			report.Accepted++
		}
		n.logger.Info().
			Str("source_tag", b.SourceTag).
			Int("rows", len(b.Records)).
			Int("accepted", report.Accepted-before.Accepted).
			Int("dropped", report.DroppedTotal()-before.DroppedTotal()).
			Msg("normalized batch")
	}
	return events, report
}

func (n *Normalizer) normalizeRecord(rec RawRecord, sourceTag string) (Event, DropReason, bool) {
	itemKey := strings.TrimSpace(rec.ItemKey)
	if itemKey == "" || strings.TrimSpace(rec.Time) == "" ||
		strings.TrimSpace(rec.Borrower) == "" || strings.TrimSpace(rec.Code) == "" ||
		strings.TrimSpace(rec.Action) == "" {
		return Event{}, DropMissingField, false
	}

	ts := n.ParseTimestamp(rec.Time)
	if ts.IsZero() {
		return Event{}, DropBadTimestamp, false
	}

	action := ParseAction(rec.Action)
	if action == ActionUnknown {
		return Event{}, DropUnknownAction, false
	}

	category := strings.TrimSpace(rec.Category)
	if category == "" {
		category = UnknownCategory
	}

	return Event{
		ItemKey:   itemKey,
		Action:    action,
		Timestamp: ts,
		Category:  category,
		SourceTag: sourceTag,
		Borrower:  strings.TrimSpace(rec.Borrower),
	}, "", true
}

func copyCounts(m map[DropReason]int) map[DropReason]int {
	out := make(map[DropReason]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
