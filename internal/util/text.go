package util

import (
	"fmt"
	"unicode/utf8"
)

// DefaultMessageLimit is the Telegram per-message character limit.
const DefaultMessageLimit = 4096

// SplitText cuts text into chunks of at most limit characters. Cuts fall on a
// fixed character budget, not on word or line boundaries.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if text == "" {
		return nil
	}
	runes := []rune(text)
	parts := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}

// Truncate keeps the first limit characters of text and appends a marker
// naming how much was shown. It reports whether anything was cut.
func Truncate(text string, limit int) (string, bool) {
	total := utf8.RuneCountInString(text)
	if limit <= 0 || total <= limit {
		return text, false
	}
	runes := []rune(text)
	return fmt.Sprintf("%s…\n[truncated: showing %d of %d characters]", string(runes[:limit]), limit, total), true
}

// RuneLen returns the length of s in characters.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
