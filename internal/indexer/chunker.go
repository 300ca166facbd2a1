// Package indexer turns extracted document text into embedded chunks and keeps
// storage and the vector index in step.
package indexer

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxTokens is the chunk size used when none is configured.
const DefaultMaxTokens = 512

// paragraphBreak separates paragraphs: a blank line, possibly holding whitespace.
var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// sentenceEnd matches a word that closes a sentence, including trailing quotes or brackets.
var sentenceEnd = regexp.MustCompile(`[.!?]["'”’)\]]*$`)

// ChunkText is one chunk produced by the Chunker.
type ChunkText struct {
	Index  int
	Text   string
	Tokens int
}

// Chunker splits text into chunks of at most maxTokens whitespace-delimited tokens.
// It packs whole paragraphs when it can, falls back to sentences for paragraphs that
// do not fit, and cuts on word boundaries only for sentences longer than a chunk.
type Chunker struct {
	maxTokens int
}

// NewChunker creates a chunker. A non-positive maxTokens selects DefaultMaxTokens.
func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

// MaxTokens returns the configured chunk size.
func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// CountTokens returns the number of whitespace-delimited tokens in text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// token is a word and the whitespace that preceded it: '\n' when the gap held a
// line break, '\t' when it held a tab, ' ' otherwise.
type token struct {
	text string
	sep  byte
}

func tokenize(para string) []token {
	var out []token
	sep := byte(' ')
	start := -1
	for i, r := range para {
		if !unicode.IsSpace(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, token{text: para[start:i], sep: sep})
			start, sep = -1, ' '
		}
		switch {
		case r == '\n':
			sep = '\n'
		case r == '\t' && sep != '\n':
			sep = '\t'
		}
	}
	if start >= 0 {
		out = append(out, token{text: para[start:], sep: sep})
	}
	return out
}

// unit is an indivisible piece of text the chunker packs into chunks.
type unit struct {
	toks      []token
	paraStart bool
}

func (u unit) writeTo(b *strings.Builder) {
	for i, t := range u.toks {
		if i > 0 {
			b.WriteByte(t.sep)
		}
		b.WriteString(t.text)
	}
}

// Chunk splits text into ordered chunks with contiguous indices starting at 0.
// Text with no tokens yields no chunks. The token counts of the chunks sum to
// CountTokens(text). Line breaks and tabs inside a paragraph are kept.
func (c *Chunker) Chunk(text string) []ChunkText {
	var units []unit
	for _, para := range paragraphBreak.Split(text, -1) {
		toks := tokenize(para)
		if len(toks) == 0 {
			continue
		}
		units = append(units, c.split(toks)...)
	}
	if len(units) == 0 {
		return nil
	}

	var (
		chunks []ChunkText
		buf    strings.Builder
		tokens int
	)
	flush := func() {
		if tokens == 0 {
			return
		}
		chunks = append(chunks, ChunkText{Index: len(chunks), Text: buf.String(), Tokens: tokens})
		buf.Reset()
		tokens = 0
	}
	for _, u := range units {
		if tokens > 0 && tokens+len(u.toks) > c.maxTokens {
			flush()
		}
		if tokens > 0 {
			if u.paraStart {
				buf.WriteString("\n\n")
			} else {
				buf.WriteByte(u.toks[0].sep)
			}
		}
		u.writeTo(&buf)
		tokens += len(u.toks)
	}
	flush()
	return chunks
}

// split breaks one paragraph into units no longer than maxTokens. Paragraphs
// holding tab-delimited rows split on lines, prose splits on sentences, and a
// segment still too long is cut on word boundaries.
func (c *Chunker) split(toks []token) []unit {
	if len(toks) <= c.maxTokens {
		return []unit{{toks: toks, paraStart: true}}
	}
	segments := sentences(toks)
	if tabular(toks) {
		segments = lines(toks)
	}
	var out []unit
	for _, seg := range segments {
		for len(seg) > c.maxTokens {
			out = append(out, unit{toks: seg[:c.maxTokens]})
			seg = seg[c.maxTokens:]
		}
		if len(seg) > 0 {
			out = append(out, unit{toks: seg})
		}
	}
	out[0].paraStart = true
	return out
}

func tabular(toks []token) bool {
	for _, t := range toks {
		if t.sep == '\t' {
			return true
		}
	}
	return false
}

// lines groups tokens into the lines they came from.
func lines(toks []token) [][]token {
	var out [][]token
	start := 0
	for i := 1; i < len(toks); i++ {
		if toks[i].sep == '\n' {
			out = append(out, toks[start:i])
			start = i
		}
	}
	return append(out, toks[start:])
}

// sentences groups tokens into sentences, ending a sentence at a word with terminal punctuation.
func sentences(toks []token) [][]token {
	var out [][]token
	start := 0
	for i, t := range toks {
		if sentenceEnd.MatchString(t.text) {
			out = append(out, toks[start:i+1])
			start = i + 1
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}
