// Package parser turns a free-text bulletin query into search terms and an
// optional date-order directive.
package parser

import (
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
)

// Order phrases recognised anywhere in the query.
const (
	PhraseNewestFirst = "新しい順"
	PhraseOldestFirst = "古い順"
)

// trailing removes order phrases and conversational tails ("の記事…",
// "について…", "を…") up to the end of the query.
var trailing = regexp.MustCompile(`新しい順.*|古い順.*|の記事.*|について.*|を.*$`)

// separators splits terms on whitespace (including the ideographic space),
// commas and the particles と and や.
var separators = regexp.MustCompile(`[\s\x{3000},、とや]+`)

type QueryPlan struct {
	Terms    []string
	Order    bulletin.Order
	RawQuery string
}

// Empty reports whether the plan has no terms. An empty plan matches nothing.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		RawQuery: query,
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return plan
	}
	if strings.Contains(q, PhraseNewestFirst) {
		plan.Order = bulletin.OrderDesc
	}
	// Checked second, so it wins when both phrases are present.
	if strings.Contains(q, PhraseOldestFirst) {
		plan.Order = bulletin.OrderAsc
	}
	q = trailing.ReplaceAllString(q, "")
	for _, w := range separators.Split(q, -1) {
		if w != "" {
			plan.Terms = append(plan.Terms, w)
		}
	}
	return plan
}
