package text

import (
	"strings"
	"unicode"
)

const slugSeparator = "-"

// Slugify normalizes a human title into a stable lowercase slug suitable
// for use in a chapter identity. Runs of non-alphanumeric characters
// collapse into a single separator.
func Slugify(title string) string {
	var builder strings.Builder

	lastWasSeparator := true

	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)

			lastWasSeparator = false

			continue
		}

		if !lastWasSeparator {
			builder.WriteString(slugSeparator)

			lastWasSeparator = true
		}
	}

	return strings.TrimSuffix(builder.String(), slugSeparator)
}

// SanitizeFilename removes or replaces characters that are invalid in most
// filesystems. Used for blob upload filenames derived from chapter titles.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"/", "_",
		"\\", "_",
		"|", "_",
		"?", "_",
		"*", "_",
	)

	return replacer.Replace(filename)
}
