package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims input, drops control characters other than newlines and
// tabs, and cuts it to at most maxLen runes.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, strings.TrimSpace(input))

	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}
