package tagger

import "strings"

const (
	fallbackSummaryRunes = 120
	fallbackTagCount     = 5
	fallbackTagMinRunes  = 4
	ellipsis             = "..."
)

// Normalize collapses line breaks to spaces and trims the result.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}

// FallbackSummary returns the first 120 characters of normalised text, with
// "..." appended only when something was cut.
func FallbackSummary(text string) string {
	r := []rune(Normalize(text))
	if len(r) <= fallbackSummaryRunes {
		return string(r)
	}
	return string(r[:fallbackSummaryRunes]) + ellipsis
}

// FallbackTags returns the first five distinct words longer than three
// characters, in order of first occurrence.
func FallbackTags(text string) []string {
	tags := make([]string, 0, fallbackTagCount)
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(Normalize(text)) {
		if len([]rune(w)) < fallbackTagMinRunes {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		tags = append(tags, w)
		if len(tags) == fallbackTagCount {
			break
		}
	}
	return tags
}
