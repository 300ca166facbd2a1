package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking. A run of horizontal
// whitespace collapses to a tab when it held one and to a space otherwise, line
// breaks are kept, and runs of blank lines collapse to one blank line. Table rows
// from spreadsheets keep their cell delimiters and paragraph boundaries survive.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	var gap rune
	newlines := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
		case r == '\t':
			gap = '\t'
		case unicode.IsSpace(r):
			if gap == 0 {
				gap = ' '
			}
		case unicode.IsControl(r):
		default:
			switch {
			case newlines > 1:
				b.WriteString("\n\n")
			case newlines == 1:
				b.WriteByte('\n')
			case gap != 0:
				b.WriteRune(gap)
			}
			newlines = 0
			gap = 0
			b.WriteRune(r)
		}
	}
	return b.String()
}
