package sink

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxNameLength caps each sanitized name component, in runes.
const DefaultMaxNameLength = 120

// MaxFileNameBytes is the per-name limit of common filesystems. Multi-byte
// titles hit it well before the rune cap.
const MaxFileNameBytes = 255

var (
	nameReplacer = strings.NewReplacer(
		":", " - ",
		"?", "",
		"*", "",
		`"`, "'",
		"/", "-",
		`\`, "-",
		"|", "-",
		"<", "_lt_",
		">", "_gt_",
	)
	invalidNameChars = regexp.MustCompile(`[\x00-\x1f\x7f<>:"/\\|?*]`)
	repeatedUnders   = regexp.MustCompile(`__+`)
	repeatedSpaces   = regexp.MustCompile(` {2,}`)
)

// SanitizeFileName maps arbitrary text to a portable file name component.
// The result is never empty, contains no reserved characters, and is at most
// maxLen runes (DefaultMaxNameLength when maxLen <= 0).
func SanitizeFileName(input string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	if strings.TrimSpace(input) == "" {
		return "Untitled_Chapter"
	}
	name := nameReplacer.Replace(input)
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = strings.Trim(name, "_. ")
	name = repeatedUnders.ReplaceAllString(name, "_")
	if utf8.RuneCountInString(name) > maxLen {
		name = string([]rune(name)[:maxLen])
		name = strings.TrimRight(name, "._ ")
	}
	if strings.TrimSpace(name) == "" {
		return "Sanitized_Untitled"
	}
	return name
}

// ItemFileName joins a book and item title into "<book> - <item>.txt". Both
// parts are shortened on rune boundaries so the name fits MaxFileNameBytes;
// the book keeps at least half of the budget.
func ItemFileName(book, item string, maxLen int) string {
	const sep, ext = " - ", ".txt"
	b := SanitizeFileName(book, maxLen)
	i := SanitizeFileName(item, maxLen)
	budget := MaxFileNameBytes - len(sep) - len(ext)
	if len(b)+len(i) > budget {
		b = truncateBytes(b, max(budget/2, budget-len(i)))
		i = truncateBytes(i, budget-len(b))
	}
	return b + sep + i + ext
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimRight(s[:n], "._ ")
}
