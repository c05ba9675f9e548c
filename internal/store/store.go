package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/model"
	"borrow-analytics-backend/internal/parse"
)

const insertBatchSize = 500

// Store defines the interface for all database operations.
type Store interface {
	ReplaceSource(ctx context.Context, src interval.Source, ivs []interval.Interval) error
	Query(ctx context.Context, f Filter) ([]interval.Interval, error)
	ListItems(ctx context.Context, f Filter) ([]ItemInfo, error)
	OpenItems(ctx context.Context, src interval.Source) (map[string]int, error)
	Statistics(ctx context.Context) (Stats, error)
	RecordRun(ctx context.Context, run model.RefreshRun) error
	LatestRun(ctx context.Context) (*model.RefreshRun, error)
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// ReplaceSource swaps every row of one source for ivs in a single
// transaction, so readers see either the old or the new set.
func (s *gormStore) ReplaceSource(ctx context.Context, src interval.Source, ivs []interval.Interval) error {
	records := make([]model.BorrowRecord, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Source != src {
			return fmt.Errorf("interval for %q has source %q, want %q", iv.ItemKey, iv.Source, src)
		}
		records = append(records, model.NewBorrowRecord(iv))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", string(src)).Delete(&model.BorrowRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear %s records: %w", src, err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&records, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert %d %s records: %w", len(records), src, err)
		}
		return nil
	})
}

func (s *gormStore) filtered(ctx context.Context, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.BorrowRecord{})
	if len(f.Sources) > 0 {
		srcs := make([]string, len(f.Sources))
		for i, src := range f.Sources {
			srcs[i] = string(src)
		}
		q = q.Where("source IN ?", srcs)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.ItemKey != "" {
		q = q.Where("item_key = ?", f.ItemKey)
	}
	if f.ItemName != "" {
		q = q.Where("item_name = ?", parse.ItemName(f.ItemName))
	}
	if len(f.ExcludeTags) > 0 {
		q = q.Where("source_tag NOT IN ?", f.ExcludeTags)
	}
	return q
}

// Query returns matching intervals ordered by item key, start and end.
func (s *gormStore) Query(ctx context.Context, f Filter) ([]interval.Interval, error) {
	var records []model.BorrowRecord
	if err := s.filtered(ctx, f).Order("item_key, start_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query borrow records: %w", err)
	}
	out := make([]interval.Interval, len(records))
	for i, r := range records {
		out[i] = r.Interval()
	}
	interval.Sort(out)
	return out, nil
}

// ListItems returns one row per item key in natural order.
func (s *gormStore) ListItems(ctx context.Context, f Filter) ([]ItemInfo, error) {
	var items []ItemInfo
	err := s.filtered(ctx, f).
		Select("item_key, MAX(item_name) AS item_name, MAX(category) AS category, " +
			"COUNT(*) AS borrows, SUM(CASE WHEN end_at IS NULL THEN 1 ELSE 0 END) AS open_count").
		Group("item_key").
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		return parse.CompareNatural(items[i].ItemKey, items[j].ItemKey) < 0
	})
	return items, nil
}

// OpenItems counts open intervals per item key for one source.
func (s *gormStore) OpenItems(ctx context.Context, src interval.Source) (map[string]int, error) {
	var rows []struct {
		ItemKey   string
		OpenCount int
	}
	err := s.db.WithContext(ctx).Model(&model.BorrowRecord{}).
		Select("item_key, COUNT(*) AS open_count").
		Where("source = ? AND end_at IS NULL", string(src)).
		Group("item_key").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open items: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ItemKey] = r.OpenCount
	}
	return out, nil
}

// Statistics aggregates counts per source, the category list and the
// start date range.
func (s *gormStore) Statistics(ctx context.Context) (Stats, error) {
	st := Stats{BySource: make(map[string]int64), Categories: []string{}}
	db := s.db.WithContext(ctx)

	var perSource []struct {
		Source string
		N      int64
	}
	if err := db.Model(&model.BorrowRecord{}).Select("source, COUNT(*) AS n").Group("source").Scan(&perSource).Error; err != nil {
		return st, fmt.Errorf("failed to count records: %w", err)
	}
	for _, r := range perSource {
		st.BySource[r.Source] = r.N
		st.Total += r.N
	}

	if err := db.Model(&model.BorrowRecord{}).Distinct("item_key").Count(&st.Items).Error; err != nil {
		return st, fmt.Errorf("failed to count items: %w", err)
	}
	if err := db.Model(&model.BorrowRecord{}).Distinct().Order("category").Pluck("category", &st.Categories).Error; err != nil {
		return st, fmt.Errorf("failed to list categories: %w", err)
	}

	if st.Total > 0 {
		var first, last model.BorrowRecord
		if err := db.Order("start_at ASC").First(&first).Error; err != nil {
			return st, fmt.Errorf("failed to fetch first record: %w", err)
		}
		if err := db.Order("start_at DESC").First(&last).Error; err != nil {
			return st, fmt.Errorf("failed to fetch last record: %w", err)
		}
		f, l := first.StartAt.UTC(), last.StartAt.UTC()
		st.First, st.Last = &f, &l
	}

	run, err := s.LatestRun(ctx)
	if err != nil {
		return st, err
	}
	st.LatestRun = run
	return st, nil
}

// RecordRun stores a refresh run summary.
func (s *gormStore) RecordRun(ctx context.Context, run model.RefreshRun) error {
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("failed to record refresh run %s: %w", run.ID, err)
	}
	return nil
}

// LatestRun returns the most recent run, or nil when none was recorded.
func (s *gormStore) LatestRun(ctx context.Context) (*model.RefreshRun, error) {
	var run model.RefreshRun
	err := s.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest refresh run: %w", err)
	}
	return &run, nil
}
