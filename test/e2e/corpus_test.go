package e2e

import (
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/synth"
)

func TestHandbookCases_ClausesInText(t *testing.T) {
	text := HandbookText()
	for _, c := range HandbookCases {
		if !strings.Contains(text, c.Clause) {
			t.Errorf("clause %q of %q is not in the handbook", c.Clause, c.Question)
		}
	}
	if !strings.Contains(text, RemoteClause) {
		t.Error("remote clause missing")
	}
}

func TestHandbookCases_DecisionsMatchAnalyzer(t *testing.T) {
	a := synth.NewAnalyzer()
	for _, c := range HandbookCases {
		got := synth.Decide(a.Analyze(c.Question), c.Clause)
		if got != c.Decision {
			t.Errorf("Decide(%q) = %q, want %q", c.Question, got, c.Decision)
		}
	}
}

func TestQuestions(t *testing.T) {
	q := Questions(HandbookCases)
	if len(q) != len(HandbookCases) {
		t.Fatalf("got %d questions", len(q))
	}
	seen := map[string]bool{}
	for i, s := range q {
		if s != HandbookCases[i].Question {
			t.Errorf("question %d = %q", i, s)
		}
		if seen[s] {
			t.Errorf("duplicate question %q", s)
		}
		seen[s] = true
	}
}
