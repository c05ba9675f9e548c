package model

import (
	"time"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/parse"
)

// BorrowRecord is one reconstructed borrow interval. Rows are replaced per
// source on every load; EndAt is nil while the item is still out.
type BorrowRecord struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	Source        string     `gorm:"size:16;not null;index:idx_borrow_source_item,priority:1"`
	SourceTag     string     `gorm:"size:64;not null;index"`
	ItemKey       string     `gorm:"size:256;not null;index:idx_borrow_source_item,priority:2"`
	ItemName      string     `gorm:"size:256;not null;index"`
	Category      string     `gorm:"size:128;not null;index"`
	StartAt       time.Time  `gorm:"not null;index"`
	EndAt         *time.Time `gorm:"index"`
	DurationHours *int
	CreatedAt     time.Time `gorm:"not null"`
}

// NewBorrowRecord converts an interval for storage. Instants are stored in UTC.
func NewBorrowRecord(iv interval.Interval) BorrowRecord {
	rec := BorrowRecord{
		Source:        string(iv.Source),
		SourceTag:     iv.SourceTag,
		ItemKey:       iv.ItemKey,
		ItemName:      parse.ItemName(iv.ItemKey),
		Category:      iv.Category,
		StartAt:       iv.Start.UTC(),
		DurationHours: iv.DurationHours,
	}
	if iv.End != nil {
		e := iv.End.UTC()
		rec.EndAt = &e
	}
	return rec
}

// Interval converts the row back. Instants come back in UTC.
func (r BorrowRecord) Interval() interval.Interval {
	iv := interval.Interval{
		ItemKey:       r.ItemKey,
		Category:      r.Category,
		Start:         r.StartAt.UTC(),
		DurationHours: r.DurationHours,
		Source:        interval.Source(r.Source),
		SourceTag:     r.SourceTag,
	}
	if r.EndAt != nil {
		e := r.EndAt.UTC()
		iv.End = &e
	}
	return iv
}
