// Package ranker orders matched entries by publication date. There is no
// relevance scoring: without an order directive the index order is kept.
package ranker

import (
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
)

// layouts are tried before the generic parser; bulletin dates are usually a
// year and month, sometimes with a day.
var layouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006-01",
	"2006-1",
	"2006/01/02",
	"2006/1/2",
	"2006/01",
	"2006/1",
	"2006年1月2日",
	"2006年1月",
	"2006",
}

// ParseDate converts a bulletin date such as "2024.05" or "2024年5月" to a
// time. '.' separators are read as '-'. Unparsable input yields the zero
// time, which sorts before every real date.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(strings.ReplaceAll(s, ".", "-"))
	if s == "" {
		return time.Time{}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t
	}
	return time.Time{}
}

// SortByDate sorts entries in place by ParseDate. Ties keep their relative
// order. OrderNone leaves entries untouched.
func SortByDate(entries []bulletin.Entry, order bulletin.Order) {
	if order == bulletin.OrderNone || len(entries) < 2 {
		return
	}
	keys := make([]time.Time, len(entries))
	for i := range entries {
		keys[i] = ParseDate(entries[i].Date)
	}
	sort.Stable(byDate{entries: entries, keys: keys, desc: order == bulletin.OrderDesc})
}

type byDate struct {
	entries []bulletin.Entry
	keys    []time.Time
	desc    bool
}

func (s byDate) Len() int { return len(s.entries) }

func (s byDate) Less(i, j int) bool {
	if s.desc {
		return s.keys[i].After(s.keys[j])
	}
	return s.keys[i].Before(s.keys[j])
}

func (s byDate) Swap(i, j int) {
	s.entries[i], s.entries[j] = s.entries[j], s.entries[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}
