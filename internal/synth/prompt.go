package synth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// DefaultContextBudget is the number of passage characters sent to a model
// when no budget is configured.
const DefaultContextBudget = 4000

// fitBudget keeps passages in rank order while their text fits in budget
// characters, so the lowest-ranked passages are dropped first. The best
// passage is always kept and is cut to the budget when it alone exceeds it.
func fitBudget(passages []models.Candidate, budget int) []models.Candidate {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	var out []models.Candidate
	used := 0
	for i, p := range passages {
		n := len(p.Chunk.Text)
		if i == 0 && n > budget {
			p.Chunk.Text = cutRunes(p.Chunk.Text, budget)
			return append(out, p)
		}
		if used+n > budget {
			break
		}
		used += n
		out = append(out, p)
	}
	return out
}

// cutRunes returns the longest prefix of s of at most n bytes that ends on a
// rune boundary.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func buildPrompt(q models.StructuredQuery, passages []models.Candidate) string {
	var b strings.Builder
	b.WriteString("You answer questions about a document using only the numbered passages below.\n")
	b.WriteString("If the passages do not contain the answer, say so and set decision to \"Not specified\".\n\n")
	fmt.Fprintf(&b, "Question: %s\n", q.Original)
	fmt.Fprintf(&b, "Question type: %s\nIntent: %s\n", q.QuestionType, q.Intent)
	if len(q.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(q.Keywords, ", "))
	}
	b.WriteString("\nPassages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d]", i+1)
		if loc := p.Chunk.Label(); loc != "" {
			fmt.Fprintf(&b, " (%s)", loc)
		}
		fmt.Fprintf(&b, " (relevance %.3f)\n%s\n\n", p.Score, p.Chunk.Text)
	}
	b.WriteString(`Respond with a single JSON object and nothing else:
{
  "answer": "direct answer to the question",
  "decision": "Yes, No, Partial or Not specified; empty for explanatory questions",
  "confidence": 0.0,
  "reasoning": "how the passages support the answer",
  "supporting_evidence": ["quoted text from the passages"],
  "conflicting_evidence": ["passages that contradict the answer"],
  "key_factors": ["facts the answer depends on"],
  "limitations": ["what the passages do not say"]
}
`)
	return b.String()
}

// completion is the JSON object requested from the model.
type completion struct {
	Answer              string      `json:"answer"`
	Decision            string      `json:"decision"`
	Confidence          *flexFloat  `json:"confidence"`
	Reasoning           string      `json:"reasoning"`
	SupportingEvidence  flexStrings `json:"supporting_evidence"`
	ConflictingEvidence flexStrings `json:"conflicting_evidence"`
	KeyFactors          flexStrings `json:"key_factors"`
	Limitations         flexStrings `json:"limitations"`
}

// parseCompletion extracts the JSON object from text. Code fences and prose
// around the object are ignored.
func parseCompletion(text string) (*completion, bool) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, false
	}
	var c completion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, false
	}
	c.Answer = strings.TrimSpace(c.Answer)
	if c.Answer == "" {
		return nil, false
	}
	return &c, true
}

func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = rest
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// flexFloat accepts 0.8, "0.8" and "80%".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return fmt.Errorf("confidence %q: %w", s, err)
	}
	if pct {
		n /= 100
	}
	*f = flexFloat(n)
	return nil
}

// flexStrings accepts a string, a list of strings, or a list of arbitrary
// values which are kept as their JSON text.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			*f = flexStrings{s}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(flexStrings, 0, len(items))
	for _, item := range items {
		var v string
		if err := json.Unmarshal(item, &v); err != nil {
			v = string(item)
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*f = out
	return nil
}
