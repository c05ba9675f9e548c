package query

import (
	"sort"
	"strings"
	"time"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/parse"
)

// FuzzySearch returns the candidates containing q, case-insensitively.
// Prefix matches come first, each group in natural order. An empty q
// returns every candidate in natural order.
func FuzzySearch(candidates []string, q string) []string {
	q = strings.ToLower(strings.TrimSpace(q))

	var prefix, contains []string
	for _, c := range candidates {
		lc := strings.ToLower(c)
		switch {
		case q == "" || strings.HasPrefix(lc, q):
			prefix = append(prefix, c)
		case strings.Contains(lc, q):
			contains = append(contains, c)
		}
	}
	sortNatural(prefix)
	sortNatural(contains)
	return append(prefix, contains...)
}

func sortNatural(s []string) {
	sort.SliceStable(s, func(i, j int) bool { return parse.CompareNatural(s[i], s[j]) < 0 })
}

// ItemCount pairs an item key with its borrow count.
type ItemCount struct {
	ItemKey string `json:"item_key"`
	Count   int    `json:"count"`
}

// Summary describes an interval set.
type Summary struct {
	Total      int            `json:"total"`
	Open       int            `json:"open"`
	Items      int            `json:"items"`
	First      *time.Time     `json:"first,omitempty"`
	Last       *time.Time     `json:"last,omitempty"`
	Categories map[string]int `json:"categories"`
	TopItems   []ItemCount    `json:"top_items"`
	BySource   map[string]int `json:"by_source"`
}

const summaryTopItems = 10

// Summarize counts intervals per category, source and item and finds the
// start date range.
func Summarize(ivs []interval.Interval) Summary {
	s := Summary{
		Total:      len(ivs),
		Categories: make(map[string]int),
		BySource:   make(map[string]int),
		TopItems:   []ItemCount{},
	}
	perItem := make(map[string]int)
	for i := range ivs {
		iv := ivs[i]
		if iv.IsOpen() {
			s.Open++
		}
		s.Categories[iv.Category]++
		s.BySource[string(iv.Source)]++
		perItem[iv.ItemKey]++
		if s.First == nil || iv.Start.Before(*s.First) {
			st := iv.Start
			s.First = &st
		}
		if s.Last == nil || iv.Start.After(*s.Last) {
			st := iv.Start
			s.Last = &st
		}
	}
	s.Items = len(perItem)

	for k, n := range perItem {
		s.TopItems = append(s.TopItems, ItemCount{ItemKey: k, Count: n})
	}
	sort.Slice(s.TopItems, func(i, j int) bool {
		a, b := s.TopItems[i], s.TopItems[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return parse.CompareNatural(a.ItemKey, b.ItemKey) < 0
	})
	if len(s.TopItems) > summaryTopItems {
		s.TopItems = s.TopItems[:summaryTopItems]
	}
	return s
}
