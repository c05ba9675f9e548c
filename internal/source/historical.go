package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"borrow-analytics-backend/internal/interval"
)

// HistoricalTag is the source tag of every exported interval.
const HistoricalTag = "Historical"

// Historical export column names.
const (
	ColStarted  = "started"
	ColFinished = "finished"
	ColDuration = "duration (hours)"
	ColCategory = "item category"
	ColItemName = "item name"
)

// DefaultHistoricalLayouts are tried in order for text timestamps.
var DefaultHistoricalLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02",
}

// HistoricalReport counts what happened to the export rows.
type HistoricalReport struct {
	Rows     int
	Accepted int
	Dropped  map[string]int
}

func (r *HistoricalReport) drop(reason string) {
	if r.Dropped == nil {
		r.Dropped = make(map[string]int)
	}
	r.Dropped[reason]++
}

// HistoricalLoader reads the bulk Excel export into intervals.
type HistoricalLoader struct {
	path    string
	layouts []string
	loc     *time.Location
	logger  zerolog.Logger
}

// NewHistoricalLoader creates a loader. Empty layouts fall back to
// DefaultHistoricalLayouts and a nil location to UTC.
func NewHistoricalLoader(path string, layouts []string, loc *time.Location, logger zerolog.Logger) *HistoricalLoader {
	if len(layouts) == 0 {
		layouts = DefaultHistoricalLayouts
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HistoricalLoader{path: path, layouts: layouts, loc: loc, logger: logger}
}

// Load reads the first sheet of the workbook.
func (h *HistoricalLoader) Load() ([]interval.Interval, HistoricalReport, error) {
	f, err := excelize.OpenFile(h.path)
	if err != nil {
		return nil, HistoricalReport{}, fmt.Errorf("open historical export: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, HistoricalReport{}, fmt.Errorf("historical export %s has no sheets", h.path)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, HistoricalReport{}, fmt.Errorf("read historical export: %w", err)
	}

	ivs, rep, err := h.ParseRows(rows)
	if err != nil {
		return nil, rep, err
	}
	h.logger.Info().
		Str("file", h.path).
		Int("rows", rep.Rows).
		Int("accepted", rep.Accepted).
		Interface("dropped", rep.Dropped).
		Msg("loaded historical export")
	return ivs, rep, nil
}

// ParseRows converts export cells, header row first, into intervals.
func (h *HistoricalLoader) ParseRows(rows [][]string) ([]interval.Interval, HistoricalReport, error) {
	var rep HistoricalReport
	if len(rows) == 0 {
		return nil, rep, fmt.Errorf("historical export is empty")
	}

	idx := make(map[string]int)
	for i, c := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(c))] = i
	}
	for _, c := range []string{ColStarted, ColFinished, ColDuration, ColCategory, ColItemName} {
		if _, ok := idx[c]; !ok {
			return nil, rep, fmt.Errorf("historical export is missing column %q", c)
		}
	}
	get := func(row []string, col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]interval.Interval, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rep.Rows++
		item := get(row, ColItemName)
		cat := get(row, ColCategory)
		if item == "" || cat == "" || get(row, ColStarted) == "" {
			rep.drop("missing_field")
			continue
		}
		start, ok := h.ParseTime(get(row, ColStarted))
		if !ok {
			rep.drop("bad_timestamp")
			h.logger.Debug().Int("row", i+2).Str("started", get(row, ColStarted)).Msg("dropping export row")
			continue
		}

		iv := interval.NewOpen(item, cat, start, interval.SourceHistorical, HistoricalTag)
		if raw := get(row, ColFinished); raw != "" {
			end, ok := h.ParseTime(raw)
			if !ok {
				rep.drop("bad_timestamp")
				continue
			}
			if end.Before(start) {
				rep.drop("end_before_start")
				continue
			}
			iv = interval.NewClosed(item, cat, start, end, interval.SourceHistorical, HistoricalTag)
			if d, err := strconv.ParseFloat(get(row, ColDuration), 64); err == nil {
				hours := int(math.RoundToEven(d))
				iv.DurationHours = &hours
			}
		}
		out = append(out, iv)
		rep.Accepted++
	}
	return out, rep, nil
}

// ParseTime accepts an Excel date serial or any configured layout. Serials
// carry wall-clock time and are placed in the loader's location.
func (h *HistoricalLoader) ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		t = t.Round(time.Second)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, h.loc), true
	}
	for _, layout := range h.layouts {
		if t, err := time.ParseInLocation(layout, raw, h.loc); err == nil {
			return t.Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}
