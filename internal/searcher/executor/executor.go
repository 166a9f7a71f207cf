// Package executor evaluates a parsed query against the loaded index. An
// entry matches when every expanded term group has at least one form that
// occurs, as a case-sensitive substring, in the entry's search text.
package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/synonym"
)

// ctxCheckEvery is how many entries are scanned between cancellation checks.
const ctxCheckEvery = 1024

type SearchResult struct {
	Query     string           `json:"query"`
	Terms     []string         `json:"terms"`
	Order     bulletin.Order   `json:"order,omitempty"`
	TotalHits int              `json:"total_hits"`
	Entries   []bulletin.Entry `json:"entries"`
}

type Executor struct {
	entries  []bulletin.Entry
	synonyms *synonym.Table
	logger   *slog.Logger
}

// New returns an Executor over entries, which must not be modified
// afterwards. A nil table means no synonyms.
func New(entries []bulletin.Entry, synonyms *synonym.Table) *Executor {
	if synonyms == nil {
		synonyms = synonym.New(nil)
	}
	return &Executor{
		entries:  entries,
		synonyms: synonyms,
		logger:   slog.Default().With("component", "query-executor"),
	}
}

// Matches reports whether text satisfies every group. No groups never
// matches.
func Matches(text string, groups [][]string) bool {
	if len(groups) == 0 {
		return false
	}
	for _, g := range groups {
		if !containsAny(text, g) {
			return false
		}
	}
	return true
}

func containsAny(text string, forms []string) bool {
	for _, f := range forms {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}

// Execute returns every matching entry, in index order or by date when the
// plan carries an order directive. The only error is ctx's.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan) (*SearchResult, error) {
	res := &SearchResult{
		Query:   plan.RawQuery,
		Terms:   plan.Terms,
		Order:   plan.Order,
		Entries: []bulletin.Entry{},
	}
	if plan.Empty() {
		return res, nil
	}

	groups := e.synonyms.Expand(plan.Terms)
	for i := range e.entries {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if Matches(e.entries[i].SearchText(), groups) {
			res.Entries = append(res.Entries, e.entries[i])
		}
	}
	ranker.SortByDate(res.Entries, plan.Order)
	res.TotalHits = len(res.Entries)

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"groups", len(groups),
		"order", string(plan.Order),
		"results", res.TotalHits,
	)
	return res, nil
}

// Len returns the number of indexed entries.
func (e *Executor) Len() int {
	return len(e.entries)
}
