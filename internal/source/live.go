// Package source reads raw borrow data: the live check-out log kept in a
// spreadsheet and the historical Excel export.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"borrow-analytics-backend/internal/category"
	"borrow-analytics-backend/internal/event"
	"borrow-analytics-backend/internal/parse"
)

// Live log column names after header cleanup.
const (
	ColTime      = "Time"
	ColNetID     = "NetID"
	ColEquipment = "Equipment Name"
	ColCode      = "Code"
	ColAction    = "Action"
)

var requiredLiveColumns = []string{ColTime, ColNetID, ColEquipment, ColCode, ColAction}

// ErrAllTabsFailed is returned when no configured tab could be read.
var ErrAllTabsFailed = errors.New("source: every live tab failed")

// ValueReader fetches the cells of one spreadsheet tab, header row first.
type ValueReader interface {
	ReadTab(ctx context.Context, tab string) ([][]string, error)
}

// TabResult records how one tab was read.
type TabResult struct {
	Tab  string
	Rows int
	Err  error
}

// LiveLoader turns the configured tabs into raw event batches.
type LiveLoader struct {
	reader ValueReader
	tabs   []string
	mapper *category.Mapper
	logger zerolog.Logger
}

// NewLiveLoader creates a loader for tabs. mapper may be nil, in which case
// every record gets the Unknown category.
func NewLiveLoader(reader ValueReader, tabs []string, mapper *category.Mapper, logger zerolog.Logger) *LiveLoader {
	return &LiveLoader{reader: reader, tabs: tabs, mapper: mapper, logger: logger}
}

// Load reads every tab. A tab that cannot be fetched or lacks required
// columns is logged and skipped. When every tab fails, Load returns
// ErrAllTabsFailed so callers leave their stored data alone.
func (l *LiveLoader) Load(ctx context.Context) ([]event.Batch, []TabResult, error) {
	var (
		batches []event.Batch
		results []TabResult
	)
	for _, tab := range l.tabs {
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}
		rows, err := l.reader.ReadTab(ctx, tab)
		if err != nil {
			l.logger.Error().Err(err).Str("tab", tab).Msg("failed to fetch live tab")
			results = append(results, TabResult{Tab: tab, Err: err})
			continue
		}
		b, err := ParseLiveRows(tab, rows, l.mapper)
		if err != nil {
			l.logger.Error().Err(err).Str("tab", tab).Msg("skipping live tab")
			results = append(results, TabResult{Tab: tab, Err: err})
			continue
		}
		l.logger.Info().Str("tab", tab).Int("rows", len(b.Records)).Msg("fetched live tab")
		results = append(results, TabResult{Tab: tab, Rows: len(b.Records)})
		batches = append(batches, b)
	}
	if len(l.tabs) > 0 && len(batches) == 0 {
		return nil, results, ErrAllTabsFailed
	}
	return batches, results, nil
}

// CleanHeader trims headers, names a blank first column NetID and collapses
// any header mentioning "Equipment Name" to exactly that.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		switch {
		case i == 0 && (h == "" || strings.HasPrefix(h, "Unnamed:")):
			h = ColNetID
		case strings.Contains(h, ColEquipment):
			h = ColEquipment
		}
		out[i] = h
	}
	return out
}

// ParseLiveRows converts one tab's cells into a batch tagged with the tab
// name. Rows are kept as-is; validation belongs to the normalizer.
func ParseLiveRows(tab string, rows [][]string, mapper *category.Mapper) (event.Batch, error) {
	b := event.Batch{SourceTag: tab}
	if len(rows) == 0 {
		return b, nil
	}

	header := CleanHeader(rows[0])
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var missing []string
	for _, c := range requiredLiveColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return b, fmt.Errorf("tab %q is missing columns %v", tab, missing)
	}

	get := func(row []string, col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	b.Records = make([]event.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		name := get(row, ColEquipment)
		code := get(row, ColCode)
		b.Records = append(b.Records, event.RawRecord{
			Time:     get(row, ColTime),
			Borrower: get(row, ColNetID),
			ItemKey:  name,
			Code:     code,
			Action:   get(row, ColAction),
			Category: mapper.Resolve(code, parse.ItemName(name)),
		})
	}
	return b, nil
}
