// Package tagger derives a summary and keyword tags for an article body. The
// text is sent to an external analyzer (a model behind a CLI or an
// OpenAI-compatible endpoint); when that call fails or yields nothing, a
// deterministic local heuristic is used instead so every record always gets
// a usable pair.
package tagger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

// Analyzer is the external text-analysis boundary. Implementations must be
// safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// Analysis is what an analyzer produced for one text.
type Analysis struct {
	Summary string
	Tags    []string
}

// Empty reports whether the analysis carries neither a summary nor tags.
func (a Analysis) Empty() bool {
	return a.Summary == "" && len(a.Tags) == 0
}

// TagField holds a tags/keywords value that arrives either as one delimited
// string or as a JSON list. It is normalised to a list on decode.
type TagField struct {
	Values []string
}

func (f *TagField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Values = nil
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f.Values = SplitTags(s)
		return nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		values := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				values = append(values, s)
				continue
			}
			raw := strings.TrimSpace(string(item))
			if raw == "" || raw == "null" || raw[0] == '{' || raw[0] == '[' {
				continue
			}
			values = append(values, raw)
		}
		f.Values = values
		return nil
	}
	return fmt.Errorf("tags must be a string or a list, got %s", data)
}

// SplitTags splits a delimited keyword string on commas, ideographic commas
// and whitespace, dropping empty pieces.
func SplitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '、' || r == '，' || unicode.IsSpace(r)
	})
}

type analysisPayload struct {
	Summary  *string  `json:"summary"`
	Keywords TagField `json:"keywords"`
	Tags     TagField `json:"tags"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseOutput extracts the single JSON object embedded anywhere in raw
// analyzer output. keywords wins over tags when it is non-empty.
func ParseOutput(out string) (Analysis, error) {
	obj := jsonObject.FindString(out)
	if obj == "" {
		return Analysis{}, fmt.Errorf("%w: no json object in output", apperrors.ErrAnalyzerNoResult)
	}
	var p analysisPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return Analysis{}, fmt.Errorf("%w: decoding analyzer output: %v", apperrors.ErrAnalyzerNoResult, err)
	}
	var a Analysis
	if p.Summary != nil {
		a.Summary = strings.TrimSpace(*p.Summary)
	}
	tags := p.Keywords.Values
	if len(tags) == 0 {
		tags = p.Tags.Values
	}
	a.Tags = bulletin.UniqueTags(tags)
	return a, nil
}
