// Package event turns raw check-out/check-in log rows into validated,
// time-parsed events.
package event

import (
	"strings"
	"time"
)

// Action is what happened to an item at a point in time.
type Action int

const (
	ActionUnknown Action = iota
	ActionCheckOut
	ActionCheckIn
)

func (a Action) String() string {
	switch a {
	case ActionCheckOut:
		return "Check Out"
	case ActionCheckIn:
		return "Check In"
	}
	return "Unknown"
}

// ParseAction recognises the spellings used by the lab sheets
// ("Check Out", "check-out", "CHECKOUT", ...).
func ParseAction(raw string) Action {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
	switch s {
	case "checkout":
		return ActionCheckOut
	case "checkin":
		return ActionCheckIn
	}
	return ActionUnknown
}

// RawRecord is one row of a check-out/check-in log before validation.
// Category is resolved by the caller before normalisation.
type RawRecord struct {
	Time     string
	Borrower string
	ItemKey  string
	Code     string
	Action   string
	Category string
}

// Batch is a set of raw records from one source tag (a sheet tab).
type Batch struct {
	SourceTag string
	Records   []RawRecord
}

// Event is an immutable, validated check-out or check-in.
type Event struct {
	ItemKey   string
	Action    Action
	Timestamp time.Time
	Category  string
	SourceTag string
	Borrower  string
	// Seq is the ingestion order and breaks timestamp ties.
	Seq int
}
