package lantern

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// Analyzer turns field text into the (token, position) stream the indexing
// path consumes. Positions start at 0 and increase by one per emitted
// token; filters that drop tokens (stop words) still advance the position,
// so phrase slop observes the gap.
type Analyzer interface {
	// Tokens analyzes one field value and returns its tokens in order.
	Tokens(field, text string) []Token
}

// Token is a single analyzed term occurrence.
type Token struct {
	Text     string
	Position int
}

// normalizeText applies Unicode normalization (NFKC) and lowercases.
func normalizeText(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// segmentWords splits text into word tokens using UAX#29 word segmentation,
// skipping whitespace and punctuation runs.
func segmentWords(s string) []string {
	toks := words.FromString(s)
	var out []string
	for toks.Next() {
		t := toks.Value()
		if !isWord(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// isWord reports whether a UAX#29 segment contains a letter or digit.
func isWord(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return false
		}
		if isPunct(r) {
			continue
		}
		return true
	}
	return false
}

func isPunct(r rune) bool {
	return strings.ContainsRune(".,;:!?'\"()[]{}<>-_/\\|@#$%^&*+=~`", r)
}

// SimpleAnalyzer normalizes with NFKC, lowercases, and segments words with
// UAX#29. This is the default analyzer.
type SimpleAnalyzer struct{}

// Compile-time check to ensure SimpleAnalyzer implements Analyzer
var _ Analyzer = (*SimpleAnalyzer)(nil)

// NewSimpleAnalyzer returns the default analyzer.
func NewSimpleAnalyzer() *SimpleAnalyzer {
	return &SimpleAnalyzer{}
}

func (a *SimpleAnalyzer) Tokens(field, text string) []Token {
	segs := segmentWords(normalizeText(text))
	tokens := make([]Token, len(segs))
	for i, s := range segs {
		tokens[i] = Token{Text: s, Position: i}
	}
	return tokens
}

// englishStopWords is the classic set of English words that are rarely
// useful for searching.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "will": true, "with": true,
}

// StopAnalyzer is SimpleAnalyzer plus stop-word removal. Removed tokens
// leave position gaps.
type StopAnalyzer struct {
	stopWords map[string]bool
}

// Compile-time check to ensure StopAnalyzer implements Analyzer
var _ Analyzer = (*StopAnalyzer)(nil)

// NewStopAnalyzer returns an analyzer that drops the given stop words, or
// the default English set when none are given.
func NewStopAnalyzer(stopWords ...string) *StopAnalyzer {
	set := englishStopWords
	if len(stopWords) > 0 {
		set = make(map[string]bool, len(stopWords))
		for _, w := range stopWords {
			set[strings.ToLower(w)] = true
		}
	}
	return &StopAnalyzer{stopWords: set}
}

func (a *StopAnalyzer) Tokens(field, text string) []Token {
	segs := segmentWords(normalizeText(text))
	var tokens []Token
	for i, s := range segs {
		if a.stopWords[s] {
			continue
		}
		tokens = append(tokens, Token{Text: s, Position: i})
	}
	return tokens
}
