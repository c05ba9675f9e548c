package store

import (
	"time"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/model"
)

// Filter narrows a query. Zero fields match everything. Date ranges are
// applied by callers on the returned intervals.
type Filter struct {
	Sources     []interval.Source
	Category    string
	ItemKey     string
	ItemName    string
	ExcludeTags []string
}

// ItemInfo summarises one item key.
type ItemInfo struct {
	ItemKey  string `json:"item_key"`
	ItemName string `json:"item_name"`
	Category string `json:"category"`
	Borrows  int    `json:"borrows"`
	Open     int    `json:"open" gorm:"column:open_count"`
}

// Stats describes the stored data.
type Stats struct {
	Total      int64             `json:"total"`
	BySource   map[string]int64  `json:"by_source"`
	Items      int64             `json:"items"`
	Categories []string          `json:"categories"`
	First      *time.Time        `json:"first,omitempty"`
	Last       *time.Time        `json:"last,omitempty"`
	LatestRun  *model.RefreshRun `json:"latest_run,omitempty"`
}
