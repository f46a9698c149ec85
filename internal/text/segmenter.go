// Package text provides sentence segmentation and text normalization for
// the narration pipeline.
//
// Segmentation is deterministic and pure so that synthesis metadata is
// reproducible given identical input.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

const whitespaceRegexPattern = `\s+`

// Segmenter splits chapter text into sentence units.
type Segmenter struct {
	whitespacePattern *regexp.Regexp
	quoteReplacer     *strings.Replacer
	preprocessor      *Preprocessor
}

// NewSegmenter creates a segmenter with compiled patterns and replacers.
func NewSegmenter() *Segmenter {
	return &Segmenter{
		preprocessor:      NewPreprocessor(),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		quoteReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Segment splits text into an ordered sequence of non-empty sentences.
//
// Internal newlines are collapsed to spaces and the preprocessor rewrite is
// applied first, then the text is split after sentence-terminal punctuation
// (., ! or ?) followed by whitespace. Fragments without a single letter or
// digit are dropped, so punctuation-only input yields zero sentences. Text
// with no terminal punctuation yields one sentence equal to the trimmed
// whole input.
func (s *Segmenter) Segment(text string) []string {
	normalized := s.preprocessor.Apply(s.Normalize(text))
	if normalized == "" {
		return nil
	}

	var sentences []string

	start := 0

	for i := range len(normalized) {
		if !isTerminal(normalized[i]) {
			continue
		}

		// Split only when the terminator is followed by whitespace.
		if i+1 < len(normalized) && normalized[i+1] != ' ' {
			continue
		}

		sentences = appendSentence(sentences, normalized[start:i+1])
		start = i + 1
	}

	return appendSentence(sentences, normalized[start:])
}

// Normalize collapses whitespace (including newlines) to single spaces and
// replaces typographic quotes and dashes with plain equivalents.
func (s *Segmenter) Normalize(text string) string {
	collapsed := s.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(s.quoteReplacer.Replace(collapsed))
}

func appendSentence(sentences []string, fragment string) []string {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" || !hasSpokenContent(trimmed) {
		return sentences
	}

	return append(sentences, trimmed)
}

// hasSpokenContent reports whether a fragment contains anything the engine
// could voice. Fragments of bare punctuation produce no audio and would
// otherwise poison timing metadata with zero-length entries.
func hasSpokenContent(fragment string) bool {
	for _, r := range fragment {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

func isTerminal(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}
