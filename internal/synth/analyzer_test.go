package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzer_Analyze(t *testing.T) {
	tests := []struct {
		query        string
		intent       string
		questionType string
		keywords     []string
	}{
		{"Does the policy cover maternity expenses?", IntentCoverage, QuestionYesNo, []string{"policy", "cover", "maternity", "expenses"}},
		{"What is not covered under the policy?", IntentExclusion, QuestionExplanatory, []string{"covered", "policy"}},
		{"What are the eligibility requirements?", IntentCondition, QuestionExplanatory, []string{"eligibility", "requirements"}},
		{"If I miss a payment, when does coverage lapse?", IntentCoverage, QuestionConditional, []string{"miss", "payment", "coverage", "lapse"}},
		{"Under what conditions is the premium waived?", IntentCondition, QuestionConditional, []string{"conditions", "premium", "waived"}},
		{"What is the grace period?", IntentGeneral, QuestionExplanatory, []string{"grace", "period"}},
		{"", IntentGeneral, QuestionExplanatory, nil},
	}
	a := NewAnalyzer()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q := a.Analyze(tt.query)
			assert.Equal(t, tt.query, q.Original)
			assert.Equal(t, tt.intent, q.Intent)
			assert.Equal(t, tt.questionType, q.QuestionType)
			assert.Equal(t, tt.keywords, q.Keywords)
		})
	}
}

func TestAnalyzer_Phrases(t *testing.T) {
	q := NewAnalyzer().Analyze(`What does "Pre-existing Disease" mean?`)
	assert.Equal(t, []string{"pre-existing disease"}, q.Phrases)
	assert.Equal(t, []string{"mean", "existing", "disease"}, q.Keywords)
}

func TestAnalyzer_KeywordLimit(t *testing.T) {
	q := NewAnalyzer().Analyze("alpha bravo charlie delta foxtrot hotel india juliet kilo lima mike alpha")
	assert.Len(t, q.Keywords, maxKeywords)
	assert.Equal(t, "alpha", q.Keywords[0])
	assert.NotContains(t, q.Keywords, "mike")
}
