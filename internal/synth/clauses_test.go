package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/testutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		sentence string
		want     ClauseType
	}{
		{"Cosmetic procedures are excluded from this policy.", ClauseExclusion},
		{"Dental treatment is not covered unless caused by an accident.", ClauseExclusion},
		{"Hospitalisation expenses are covered up to the sum insured.", ClauseCoverage},
		{testutil.GraceSentence, ClauseCoverage},
		{"Claims must be filed with supporting documents.", ClauseCondition},
		{"The insurer is a registered company.", ClauseGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.sentence), tt.sentence)
	}
}

func TestExtractClauses(t *testing.T) {
	clauses := ExtractClauses([]string{
		"Short one. Cosmetic procedures are excluded from this policy.",
		"Claims must be filed with supporting documents.",
	})
	assert.Equal(t, []Clause{
		{Text: "Cosmetic procedures are excluded from this policy.", Type: ClauseExclusion, Passage: 0},
		{Text: "Claims must be filed with supporting documents.", Type: ClauseCondition, Passage: 1},
	}, clauses)
}

func TestDecide(t *testing.T) {
	yesNo := models.StructuredQuery{QuestionType: QuestionYesNo, Intent: IntentGeneral}
	coverage := models.StructuredQuery{QuestionType: QuestionExplanatory, Intent: IntentCoverage}
	general := models.StructuredQuery{QuestionType: QuestionExplanatory, Intent: IntentGeneral}

	tests := []struct {
		name     string
		q        models.StructuredQuery
		sentence string
		want     string
	}{
		{"exclusion cue", yesNo, "Cosmetic procedures are excluded from this policy.", DecisionNo},
		{"exclusion wins over coverage", yesNo, "Dental care is not covered.", DecisionNo},
		{"coverage cue", yesNo, testutil.GraceSentence, DecisionYes},
		{"coverage question", coverage, "Hospital expenses are covered.", DecisionYes},
		{"no cue", yesNo, "Claims must be filed within a month.", DecisionNotSpecified},
		{"no cue on coverage question", coverage, "Claims must be filed within a month.", ""},
		{"explanatory question", general, "Cosmetic procedures are excluded.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.q, tt.sentence))
		})
	}
}

func TestNormalizeDecision(t *testing.T) {
	assert.Equal(t, DecisionYes, normalizeDecision(" yes "))
	assert.Equal(t, DecisionNo, normalizeDecision("Excluded"))
	assert.Equal(t, DecisionNotSpecified, normalizeDecision("unclear"))
	assert.Equal(t, "Partial", normalizeDecision("Partial"))
	assert.Equal(t, "", normalizeDecision(""))
}
