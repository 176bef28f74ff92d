// Package e2e runs questions through the full stack: HTTP API, ingestion of
// local files in every supported format, retrieval and extractive answers.
package e2e

import "strings"

// HandbookClauses are the sentences of a short benefits handbook. Each one
// answers exactly one Case.
var HandbookClauses = []string{
	"Dental treatment is covered up to two thousand dollars per year.",
	"Cosmetic surgery is excluded from the medical plan.",
	"Employees receive twenty days of paid annual leave.",
	"Remote work is allowed for three days each week.",
	"Maternity benefits require a waiting period of nine months.",
	"Gym memberships are reimbursed at fifty percent.",
	"Claims must be submitted within thirty days of discharge.",
}

// RemoteClause is the clause checked when a single question is asked of every format.
const RemoteClause = "Remote work is allowed for three days each week."

// RemoteQuestion is answered by RemoteClause.
const RemoteQuestion = "Is remote work allowed?"

// Case is a question with the clause its answer must quote. Decision is the
// expected decision label, empty when the question gets none.
type Case struct {
	Question string
	Clause   string
	Decision string
}

// HandbookCases are asked together in one batch.
var HandbookCases = []Case{
	{Question: "Is dental treatment covered?", Clause: HandbookClauses[0], Decision: "Yes"},
	{Question: "Is cosmetic surgery covered by the medical plan?", Clause: HandbookClauses[1], Decision: "No"},
	{Question: "How many days of paid annual leave do employees receive?", Clause: HandbookClauses[2]},
	{Question: RemoteQuestion, Clause: RemoteClause, Decision: "Yes"},
	{Question: "What is the waiting period for maternity benefits?", Clause: HandbookClauses[4]},
	{Question: "Within how many days must claims be submitted?", Clause: HandbookClauses[6]},
}

// HandbookText is the handbook as one paragraph.
func HandbookText() string {
	return strings.Join(HandbookClauses, " ")
}

// Questions returns the questions of cases in order.
func Questions(cases []Case) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.Question
	}
	return out
}
