package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte("\ufeff")

// extractPlain decodes exported text. Invalid UTF-8 becomes U+FFFD so the
// chunker never sees broken runes.
func extractPlain(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return normalizeNewlines(s), nil
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

func normalizeNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\x00") {
		return s
	}
	return newlineReplacer.Replace(s)
}

// joinBlocks trims each block and joins the non-empty ones with a blank line,
// which the chunker treats as a paragraph break.
func joinBlocks(blocks []string) string {
	kept := blocks[:0]
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}
