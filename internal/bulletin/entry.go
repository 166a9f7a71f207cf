// Package bulletin defines the index entry shared by the builder and the
// search service, and the fixed CSV column names of a bulletin dump.
package bulletin

import "strings"

// Column headers of a bulletin CSV. Lookup is by header name, never by
// position.
const (
	ColumnMunicipality = "自治体名"
	ColumnDate         = "公開年月"
	ColumnIssueTitle   = "発行号タイトル"
	ColumnArticleTitle = "記事タイトル"
	ColumnCategory     = "カテゴリ"
	ColumnBody         = "記事本文"
)

// Entry is one article row in the index snapshot.
type Entry struct {
	ID           string   `json:"id"`
	Municipality string   `json:"municipality"`
	Date         string   `json:"date"`
	IssueTitle   string   `json:"issue_title"`
	ArticleTitle string   `json:"article_title"`
	Category     string   `json:"category"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	Source       string   `json:"source"`
	Row          int      `json:"row"`
}

// SearchText is the text a query is matched against: title, summary, tags
// and category joined by single spaces.
func (e *Entry) SearchText() string {
	var b strings.Builder
	b.WriteString(e.ArticleTitle)
	b.WriteByte(' ')
	b.WriteString(e.Summary)
	b.WriteByte(' ')
	b.WriteString(strings.Join(e.Tags, " "))
	b.WriteByte(' ')
	b.WriteString(e.Category)
	return b.String()
}

// Order is an optional date-sort directive parsed from a query.
type Order string

const (
	OrderNone Order = ""
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// UniqueTags drops empty and repeated tags, keeping first occurrences in
// order. The result is never nil so it serialises as [].
func UniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
