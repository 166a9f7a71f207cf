package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024.05", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2024.5", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-05-17", time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)},
		{"2024.5.7", time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)},
		{"2023/12/01", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"2023年12月", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"2023年4月10日", time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC)},
		{"2022", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"令和六年春", time.Time{}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.True(t, tc.want.Equal(ParseDate(tc.in)), "got %v", ParseDate(tc.in))
		})
	}
}

func entries(dates ...string) []bulletin.Entry {
	out := make([]bulletin.Entry, len(dates))
	for i, d := range dates {
		out[i] = bulletin.Entry{ID: string(rune('a' + i)), Date: d}
	}
	return out
}

func ids(es []bulletin.Entry) string {
	s := ""
	for _, e := range es {
		s += e.ID
	}
	return s
}

func TestSortByDate(t *testing.T) {
	base := func() []bulletin.Entry {
		return entries("2024.05", "不明", "2023.12", "2024.05", "2024-01-15")
	}

	desc := base()
	SortByDate(desc, bulletin.OrderDesc)
	assert.Equal(t, "adecb", ids(desc), "ties keep index order, unparsable last")

	asc := base()
	SortByDate(asc, bulletin.OrderAsc)
	assert.Equal(t, "bcead", ids(asc), "unparsable first")

	none := base()
	SortByDate(none, bulletin.OrderNone)
	assert.Equal(t, "abcde", ids(none))
}

func TestSortByDate_Monotonic(t *testing.T) {
	es := entries("2021.3", "2019.11", "2024.1", "x", "2020.7", "2024.1")
	SortByDate(es, bulletin.OrderDesc)
	for i := 1; i < len(es); i++ {
		assert.False(t, ParseDate(es[i].Date).After(ParseDate(es[i-1].Date)))
	}
}
