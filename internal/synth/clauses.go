package synth

import (
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ClauseType classifies a sentence of a passage.
type ClauseType string

const (
	ClauseCoverage  ClauseType = "coverage"
	ClauseExclusion ClauseType = "exclusion"
	ClauseCondition ClauseType = "condition"
	ClauseGeneral   ClauseType = "general"
)

// Decision labels.
const (
	DecisionYes          = "Yes"
	DecisionNo           = "No"
	DecisionNotSpecified = "Not specified"
)

const minClauseLen = 20

var (
	exclusionCues = []string{"excluded", "not covered", "exception", "does not cover", "shall not"}
	coverageCues  = []string{"covered", "includes", "benefit", "eligible", "shall be paid", "is allowed", "grace period"}
	conditionCues = []string{"condition", "require", "must", "provided that", "subject to", "waiting period"}
)

// Clause is a classified sentence taken from a passage.
type Clause struct {
	Text    string
	Type    ClauseType
	Passage int // index of the passage it came from
}

// ExtractClauses splits passages into sentences, drops those shorter than 20
// characters and classifies the rest by cue words.
func ExtractClauses(passages []string) []Clause {
	var out []Clause
	for i, p := range passages {
		for _, s := range utils.SplitSentences(p) {
			if len(s.Text) < minClauseLen {
				continue
			}
			out = append(out, Clause{Text: s.Text, Type: Classify(s.Text), Passage: i})
		}
	}
	return out
}

// Classify returns the clause type of a sentence. Exclusion cues win over
// coverage cues since "not covered" contains "covered".
func Classify(sentence string) ClauseType {
	lower := strings.ToLower(sentence)
	switch {
	case containsAny(lower, exclusionCues):
		return ClauseExclusion
	case containsAny(lower, coverageCues):
		return ClauseCoverage
	case containsAny(lower, conditionCues):
		return ClauseCondition
	}
	return ClauseGeneral
}

// Decide infers a decision label for q from the evidence sentence. Only
// yes/no questions and coverage or exclusion questions get a label.
func Decide(q models.StructuredQuery, sentence string) string {
	yesNo := q.QuestionType == QuestionYesNo
	if !yesNo && q.Intent != IntentCoverage && q.Intent != IntentExclusion {
		return ""
	}
	lower := strings.ToLower(sentence)
	switch {
	case containsAny(lower, exclusionCues):
		return DecisionNo
	case containsAny(lower, coverageCues):
		return DecisionYes
	case yesNo:
		return DecisionNotSpecified
	}
	return ""
}

// normalizeDecision maps a model-provided label onto the known labels.
func normalizeDecision(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "":
		return ""
	case "yes", "covered", "true":
		return DecisionYes
	case "no", "not covered", "excluded", "false":
		return DecisionNo
	case "not specified", "unclear", "unknown", "n/a":
		return DecisionNotSpecified
	}
	return strings.TrimSpace(d)
}
