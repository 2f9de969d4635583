package extract

import (
	"unicode"
	"unicode/utf8"
)

// MinNarrationLength is the shortest non-dialogue line worth keeping.
const MinNarrationLength = 3

// IsReadableLine reports whether a trimmed line carries text worth keeping.
// Quote-led lines are dialogue and only need one letter or digit; other
// lines need a letter or digit and, if they contain letters, at least
// MinNarrationLength runes.
func IsReadableLine(line string) bool {
	if line == "" {
		return false
	}
	var hasLetters, hasDigits bool
	for _, r := range line {
		switch {
		case unicode.IsLetter(r):
			hasLetters = true
		case unicode.IsDigit(r):
			hasDigits = true
		}
	}
	first, _ := utf8.DecodeRuneInString(line)
	if isQuote(first) {
		return hasLetters || hasDigits
	}
	if !hasLetters && !hasDigits {
		return false
	}
	if hasLetters && utf8.RuneCountInString(line) < MinNarrationLength {
		return false
	}
	return true
}

func isQuote(r rune) bool {
	switch r {
	case '"', '\'', '“', '”', '‘', '’', '«', '「', '『':
		return true
	default:
		return false
	}
}
