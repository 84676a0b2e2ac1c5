package processing

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	multiSpaces   = regexp.MustCompile(`[ \t\x{00A0}]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans text for chunking: line endings become "\n", invalid
// UTF-8 and control or zero-width characters are removed, runs of blanks
// collapse to one space, lines are trimmed, and more than one blank line
// collapses to a single paragraph break.
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)

	text = multiSpaces.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = multiNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
