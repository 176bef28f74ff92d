// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen]) + "..."
}

// Tokenize lower-cases s and splits it into letter/digit runs.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTerms returns the tokens of s that are not stopwords.
func ContentTerms(s string) []string {
	toks := Tokenize(s)
	out := toks[:0]
	for _, t := range toks {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

// Stem strips a few common English suffixes so that "payments" and "payment"
// or "covered" and "cover" compare equal. It is intentionally crude.
func Stem(t string) string {
	if len(t) <= 4 {
		return t
	}
	for _, suf := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(t, suf) && len(t)-len(suf) >= 4 {
			return t[:len(t)-len(suf)]
		}
	}
	return t
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and any are as at be been but by can could do does did for from
		had has have how i if in into is it its may me my no not of on or our shall should so such than that the
		their them then there these they this those to under up was we were what when where which while who whom
		why will with would you your yes also all about`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the lower-cased token w carries no retrieval signal.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// Sentence is a sentence of a text with its byte span.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// SplitSentences splits text at '.', '!' or '?' followed by whitespace, and at blank lines.
// Returned text is trimmed; spans refer to the trimmed text within the input.
func SplitSentences(text string) []Sentence {
	var out []Sentence
	start := 0
	emit := func(end int) {
		seg := text[start:end]
		trimmed := strings.TrimSpace(seg)
		if trimmed != "" {
			off := start + strings.Index(seg, trimmed)
			out = append(out, Sentence{Text: trimmed, Start: off, End: off + len(trimmed)})
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '.' || c == '!' || c == '?':
			if i+1 == len(text) || isSpace(text[i+1]) {
				emit(i + 1)
			}
		case c == '\n' && i+1 < len(text) && (text[i+1] == '\n' || text[i+1] == '\f'):
			emit(i + 1)
		case c == '\f':
			emit(i + 1)
		}
	}
	if start < len(text) {
		emit(len(text))
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f'
}
