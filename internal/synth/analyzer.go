// Package synth turns a question and its ranked passages into an answer with a
// rationale. A generative strategy asks a language model; an extractive
// strategy builds the answer from the best passage without any model call.
package synth

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Intents.
const (
	IntentCoverage  = "coverage_check"
	IntentExclusion = "exclusion_check"
	IntentCondition = "condition_check"
	IntentGeneral   = "general_inquiry"
)

// Question types.
const (
	QuestionYesNo       = "yes_no"
	QuestionConditional = "conditional"
	QuestionExplanatory = "explanatory"
)

const maxKeywords = 10

var phraseRegex = regexp.MustCompile(`["']([^"']+)["']`)

var (
	exclusionIntentCues = []string{"exclude", "exclusion", "exception", "not covered"}
	coverageIntentCues  = []string{"cover", "include"}
	conditionIntentCues = []string{"condition", "requirement", "eligib", "waiting"}
	yesNoLeads          = []string{"does", "is", "can", "will", "would", "are", "do"}
	conditionalLeads    = []string{"if", "when"}
)

// Analyzer derives intent, question type, keywords and phrases from a question.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze parses a question.
func (a *Analyzer) Analyze(query string) models.StructuredQuery {
	lower := strings.ToLower(strings.TrimSpace(query))
	phrases, remaining := a.extractPhrases(lower)
	return models.StructuredQuery{
		Original:     query,
		Intent:       a.intent(lower),
		QuestionType: a.questionType(lower),
		Keywords:     a.keywords(remaining + " " + strings.Join(phrases, " ")),
		Phrases:      phrases,
	}
}

// Exclusion is checked first: "not covered" also mentions "cover".
func (a *Analyzer) intent(lower string) string {
	switch {
	case containsAny(lower, exclusionIntentCues):
		return IntentExclusion
	case containsAny(lower, coverageIntentCues):
		return IntentCoverage
	case containsAny(lower, conditionIntentCues):
		return IntentCondition
	}
	return IntentGeneral
}

func (a *Analyzer) questionType(lower string) string {
	words := strings.Fields(lower)
	if len(words) == 0 {
		return QuestionExplanatory
	}
	first := normalizeToken(words[0])
	switch {
	case contains(yesNoLeads, first):
		return QuestionYesNo
	case contains(conditionalLeads, first), strings.Contains(lower, "under what"):
		return QuestionConditional
	}
	return QuestionExplanatory
}

func (a *Analyzer) extractPhrases(lower string) ([]string, string) {
	var phrases []string
	for _, m := range phraseRegex.FindAllStringSubmatch(lower, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases, phraseRegex.ReplaceAllString(lower, " ")
}

func (a *Analyzer) keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range utils.Tokenize(text) {
		if len(w) <= 3 || utils.IsStopword(w) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// normalizeToken lower-cases and strips edge punctuation, keeping hyphens.
func normalizeToken(token string) string {
	return strings.TrimFunc(strings.ToLower(token), func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '_'
	})
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
