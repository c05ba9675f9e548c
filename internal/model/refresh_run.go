package model

import "time"

// RefreshRun records the outcome of one load or refresh.
type RefreshRun struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Kind       string    `gorm:"size:16;not null" json:"kind"` // historical or realtime
	StartedAt  time.Time `gorm:"not null;index" json:"started_at"`
	FinishedAt time.Time `gorm:"not null" json:"finished_at"`
	Status     string    `gorm:"size:16;not null" json:"status"`
	Events     int       `json:"events"`
	Intervals  int       `json:"intervals"`
	Duplicates int       `json:"duplicates"`
	Dropped    int       `json:"dropped"`
	Orphans    int       `json:"orphans"`
	Error      string    `json:"error,omitempty"`
}

// Refresh run statuses.
const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"
)
