package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/errs"
)

// MaxQuestions bounds the number of questions accepted in one batch.
const MaxQuestions = 100

// QueryRequest is a batch of questions against one document. Documents holds a
// source reference (URL, s3:// or file path); DocumentID may name an already
// indexed document instead.
type QueryRequest struct {
	Documents  string   `json:"documents,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
	Questions  []string `json:"questions"`
	Format     string   `json:"format,omitempty"`   // optional format hint
	Reingest   bool     `json:"reingest,omitempty"` // force re-ingestion of the source
}

// Validate checks the request and trims questions in place.
func (q *QueryRequest) Validate() error {
	q.Documents = strings.TrimSpace(q.Documents)
	q.DocumentID = strings.TrimSpace(q.DocumentID)
	if q.Documents == "" && q.DocumentID == "" {
		return errs.E(errs.InvalidInput, "validate", "documents or document_id is required")
	}
	if len(q.Questions) == 0 {
		return errs.E(errs.InvalidInput, "validate", "at least one question is required")
	}
	if len(q.Questions) > MaxQuestions {
		return errs.E(errs.InvalidInput, "validate", "at most %d questions per request", MaxQuestions)
	}
	for i, s := range q.Questions {
		s = strings.TrimSpace(s)
		if s == "" {
			return errs.E(errs.InvalidInput, "validate", "question %d is empty", i)
		}
		q.Questions[i] = s
	}
	if q.Format != "" {
		if _, ok := ParseFormat(strings.ToLower(q.Format)); !ok {
			return errs.E(errs.InvalidInput, "validate", "unknown format %q", q.Format)
		}
	}
	return nil
}

// QueryResponse carries one answer per question, in request order. Error is set
// when the whole batch failed, in which case Answers is empty.
type QueryResponse struct {
	DocumentID       string     `json:"document_id,omitempty"`
	Answers          []Answer   `json:"answers"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	Error            *errs.Body `json:"error,omitempty"`
}

// AnswerTexts returns the answer strings in order.
func (r *QueryResponse) AnswerTexts() []string {
	out := make([]string, len(r.Answers))
	for i, a := range r.Answers {
		out[i] = a.Answer
	}
	return out
}

// StructuredQuery is the analyzed form of a question.
type StructuredQuery struct {
	Original     string   `json:"original_query"`
	Intent       string   `json:"intent"`
	QuestionType string   `json:"question_type"`
	Keywords     []string `json:"keywords"`
	Phrases      []string `json:"phrases,omitempty"`
}

// QueryLog is the bookkeeping record for an answered question.
type QueryLog struct {
	ID               string    `json:"id" db:"id"`
	DocumentID       string    `json:"document_id" db:"document_id"`
	Question         string    `json:"question" db:"question"`
	Answer           string    `json:"answer" db:"answer"`
	Decision         string    `json:"decision,omitempty" db:"decision"`
	Confidence       float64   `json:"confidence" db:"confidence"`
	Strategy         string    `json:"strategy" db:"strategy"`
	ErrorKind        string    `json:"error_kind,omitempty" db:"error_kind"`
	ProcessingTimeMS int64     `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

func (l QueryLog) String() string {
	return fmt.Sprintf("%s %q -> %s (%.2f)", l.DocumentID, l.Question, l.Strategy, l.Confidence)
}
