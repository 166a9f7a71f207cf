// Package render formats search results either as a JSON array of entries
// or as one Markdown document per entry, with the full article body read
// back from the source CSV.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/logger"
)

// Format selects the output mode.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps the request's format parameter to a Format. Only
// "markdown" selects Markdown; anything else is JSON.
func ParseFormat(s string) Format {
	if s == string(FormatMarkdown) {
		return FormatMarkdown
	}
	return FormatJSON
}

// ContentType is the response media type for f.
func (f Format) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// BodyFetcher returns the article body of 1-based row in source.
type BodyFetcher interface {
	Body(source string, row int) (string, error)
}

type Renderer struct {
	fetcher BodyFetcher
	logger  *slog.Logger
}

func New(fetcher BodyFetcher) *Renderer {
	return &Renderer{
		fetcher: fetcher,
		logger:  slog.Default().With("component", "renderer"),
	}
}

// Render encodes entries in format f.
func (r *Renderer) Render(ctx context.Context, f Format, entries []bulletin.Entry) ([]byte, error) {
	if f == FormatMarkdown {
		return []byte(r.Markdown(ctx, entries)), nil
	}
	return JSON(entries)
}

// JSON encodes entries as an array without HTML escaping. Nil encodes as [].
func JSON(entries []bulletin.Entry) ([]byte, error) {
	if entries == nil {
		entries = []bulletin.Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown renders one block per entry, separated by a blank line. A body
// that cannot be fetched renders as empty; it never fails the whole output.
func (r *Renderer) Markdown(ctx context.Context, entries []bulletin.Entry) string {
	log := logger.FromContext(ctx)
	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		body, err := r.fetcher.Body(e.Source, e.Row)
		if err != nil {
			log.Warn("article body unavailable", "id", e.ID, "source", e.Source, "row", e.Row, "error", err)
			body = ""
		}
		blocks = append(blocks, Block(e, body))
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

// Block renders a single entry.
func Block(e bulletin.Entry, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", e.ArticleTitle)
	fmt.Fprintf(&b, "- 自治体: %s\n", e.Municipality)
	fmt.Fprintf(&b, "- 日付: %s\n", e.Date)
	fmt.Fprintf(&b, "- 号: %s\n", e.IssueTitle)
	fmt.Fprintf(&b, "- カテゴリ: %s\n\n", e.Category)
	b.WriteString(body)
	return b.String()
}
