package router

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FastPathResult is a Tier-1 match: the query goes straight to search.
type FastPathResult struct {
	Query   string `json:"query"`
	Keyword string `json:"keyword"`
}

// Classifier is the Tier-1 step. It must be deterministic and cheap.
type Classifier interface {
	Classify(query string) (*FastPathResult, bool)
}

// KeywordClassifier matches documentation-intent phrases on word boundaries.
type KeywordClassifier struct {
	phrases   [][]string
	keywords  []string
	minLength int
	typos     int
}

// ClassifierOption configures a KeywordClassifier.
type ClassifierOption func(*KeywordClassifier)

// WithTypoTolerance lets keyword words of six or more letters match query words
// up to maxDistance edits away. Exact matches are always preferred.
func WithTypoTolerance(maxDistance int) ClassifierOption {
	return func(c *KeywordClassifier) { c.typos = max(maxDistance, 0) }
}

// NewKeywordClassifier creates a classifier for keywords. Queries shorter than
// minLength runes never take the fast path.
func NewKeywordClassifier(keywords []string, minLength int, opts ...ClassifierOption) *KeywordClassifier {
	c := &KeywordClassifier{minLength: minLength}
	for _, opt := range opts {
		opt(c)
	}
	for _, kw := range keywords {
		words := words(kw)
		if len(words) == 0 {
			continue
		}
		c.phrases = append(c.phrases, words)
		c.keywords = append(c.keywords, strings.Join(words, " "))
	}
	return c
}

// Classify returns the first keyword found in query.
func (c *KeywordClassifier) Classify(query string) (*FastPathResult, bool) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < c.minLength {
		return nil, false
	}
	qw := words(query)
	for i, phrase := range c.phrases {
		if containsPhrase(qw, phrase, 0) {
			return &FastPathResult{Query: query, Keyword: c.keywords[i]}, true
		}
	}
	if c.typos > 0 {
		for i, phrase := range c.phrases {
			if containsPhrase(qw, phrase, c.typos) {
				return &FastPathResult{Query: query, Keyword: c.keywords[i]}, true
			}
		}
	}
	return nil, false
}

// words lowercases s and splits it into letter/digit runs. Apostrophes inside a
// word are kept so "what's" stays one word.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// containsPhrase reports whether phrase occurs as consecutive words of ws, each
// word within typos edits.
func containsPhrase(ws, phrase []string, typos int) bool {
	for i := 0; i+len(phrase) <= len(ws); i++ {
		match := true
		for j, p := range phrase {
			if !closeEnough(ws[i+j], p, typos) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
