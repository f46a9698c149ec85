package text

import (
	"regexp"
	"strconv"
	"strings"
)

// Number spelling bases.
const (
	baseTen          = 10
	baseTwenty       = 20
	baseHundred      = 100
	baseThousand     = 1000
	maxSpellableInt  = 999999
	referencePattern = `(?:\[\d+\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+)`
	citationPattern  = `\([^)]*\d{4}[^)]*\)|\b\w+\s+et\s+al\.`
	integerPattern   = `\d+`
)

// Preprocessor rewrites chapter text into a form the synthesis engine voices
// cleanly: title abbreviations are expanded so their trailing periods stop
// masquerading as sentence boundaries, standalone integers are spelled out,
// and citation apparatus is stripped.
type Preprocessor struct {
	abbreviationReplacer *strings.Replacer
	references           *regexp.Regexp
	citations            *regexp.Regexp
	integers             *regexp.Regexp
	spaces               *regexp.Regexp
}

// NewPreprocessor creates a preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
	}

	return &Preprocessor{
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		references:           regexp.MustCompile(referencePattern),
		citations:            regexp.MustCompile(citationPattern),
		integers:             regexp.MustCompile(integerPattern),
		spaces:               regexp.MustCompile(whitespaceRegexPattern),
	}
}

// Apply runs the full rewrite. The input is expected to already have
// normalized whitespace and quotes.
func (p *Preprocessor) Apply(text string) string {
	rewritten := p.abbreviationReplacer.Replace(text)
	rewritten = p.references.ReplaceAllString(rewritten, "")
	rewritten = p.citations.ReplaceAllString(rewritten, "")
	rewritten = p.spellOutIntegers(rewritten)

	// Stripped tokens leave double spaces behind.
	rewritten = p.spaces.ReplaceAllString(rewritten, " ")

	return strings.TrimSpace(rewritten)
}

// spellOutIntegers replaces standalone integer runs with their English word
// form. Digit runs that are part of a larger numeric token, such as the
// components of "2.5" or "1,000", are left untouched rather than voiced as
// separate numbers.
func (p *Preprocessor) spellOutIntegers(text string) string {
	matches := p.integers.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var builder strings.Builder

	last := 0

	for _, match := range matches {
		start, end := match[0], match[1]
		builder.WriteString(text[last:start])

		token := text[start:end]
		if partOfNumericToken(text, start, end) {
			builder.WriteString(token)
		} else {
			builder.WriteString(spellInteger(token))
		}

		last = end
	}

	builder.WriteString(text[last:])

	return builder.String()
}

func partOfNumericToken(text string, start, end int) bool {
	if start > 0 {
		prev := text[start-1]
		if prev == '.' || prev == ',' || prev == '-' {
			return true
		}
	}

	if end < len(text)-1 {
		next := text[end]
		if (next == '.' || next == ',') && isDigit(text[end+1]) {
			return true
		}
	}

	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func spellInteger(token string) string {
	number, err := strconv.Atoi(token)
	if err != nil || number > maxSpellableInt {
		return token
	}

	return integerToWords(number)
}

var (
	onesWords = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

func integerToWords(number int) string {
	if number == 0 {
		return "zero"
	}

	var parts []string

	thousands := number / baseThousand
	if thousands > 0 {
		parts = append(parts, underThousandToWords(thousands)+" thousand")
	}

	remainder := number % baseThousand
	if remainder > 0 {
		parts = append(parts, underThousandToWords(remainder))
	}

	return strings.Join(parts, " ")
}

func underThousandToWords(number int) string {
	hundreds := number / baseHundred
	remainder := number % baseHundred

	if hundreds == 0 {
		return underHundredToWords(remainder)
	}

	result := onesWords[hundreds] + " hundred"
	if remainder > 0 {
		result += " " + underHundredToWords(remainder)
	}

	return result
}

func underHundredToWords(number int) string {
	switch {
	case number < baseTen:
		return onesWords[number]
	case number < baseTwenty:
		return teensWords[number-baseTen]
	default:
		result := tensWords[number/baseTen]
		if number%baseTen > 0 {
			result += " " + onesWords[number%baseTen]
		}

		return result
	}
}
