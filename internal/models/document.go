// Package models defines the plain data records exchanged by the answering pipeline:
// documents, chunks, retrieval candidates, answers, and the request/response shapes.
package models

import (
	"strconv"
	"time"
)

// Format is a document format understood by the extractor.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatEmail    Format = "email"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatXLSX     Format = "xlsx"
	FormatPPTX     Format = "pptx"
	FormatODP      Format = "odp"
	FormatODS      Format = "ods"
	FormatODT      Format = "odt"
	FormatRTF      Format = "rtf"
)

// Formats lists every supported format.
var Formats = []Format{
	FormatPDF, FormatDOCX, FormatEmail, FormatText, FormatMarkdown,
	FormatXLSX, FormatPPTX, FormatODP, FormatODS, FormatODT, FormatRTF,
}

// ParseFormat returns the Format named by s, accepting common aliases.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "pdf":
		return FormatPDF, true
	case "docx", "word":
		return FormatDOCX, true
	case "email", "eml", "msg", "mail":
		return FormatEmail, true
	case "text", "txt", "plain":
		return FormatText, true
	case "markdown", "md":
		return FormatMarkdown, true
	case "xlsx", "excel":
		return FormatXLSX, true
	case "pptx", "powerpoint":
		return FormatPPTX, true
	case "odp":
		return FormatODP, true
	case "ods":
		return FormatODS, true
	case "odt":
		return FormatODT, true
	case "rtf":
		return FormatRTF, true
	}
	return "", false
}

// Status is the processing state of a document.
type Status string

const (
	StatusPending Status = "pending"
	StatusParsed  Status = "parsed"
	StatusIndexed Status = "indexed"
	StatusFailed  Status = "failed"
)

// CanTransition reports whether a document may move from s to next.
// Any state may restart at pending (re-ingestion) or fail.
func (s Status) CanTransition(next Status) bool {
	if next == StatusPending || next == StatusFailed {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusParsed
	case StatusParsed:
		return next == StatusIndexed
	}
	return false
}

// Document is a source document known to the pipeline.
type Document struct {
	ID           string            `json:"id" db:"id"`
	Source       string            `json:"source" db:"source"`
	Title        string            `json:"title" db:"title"`
	Format       Format            `json:"format" db:"format"`
	Status       Status            `json:"status" db:"status"`
	SizeBytes    int64             `json:"size_bytes" db:"size_bytes"`
	PageCount    int               `json:"page_count" db:"page_count"`
	ChunkCount   int               `json:"chunk_count" db:"chunk_count"`
	ContentHash  string            `json:"content_hash,omitempty" db:"content_hash"`
	ModelVersion string            `json:"model_version,omitempty" db:"model_version"`
	Error        string            `json:"error,omitempty" db:"error"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
	IndexedAt    *time.Time        `json:"indexed_at,omitempty" db:"indexed_at"`
}

// Chunk is an immutable span of document text, the unit of retrieval.
type Chunk struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`
	Seq        int    `json:"seq" db:"seq"`
	Text       string `json:"text" db:"text"`
	Start      int    `json:"start" db:"start_offset"` // byte offset into the extracted document text
	End        int    `json:"end" db:"end_offset"`
	Page       int    `json:"page" db:"page"`
	PageEnd    int    `json:"page_end" db:"page_end"`
	Section    string `json:"section,omitempty" db:"section"`
	TokenCount int    `json:"token_count" db:"token_count"`
}

// Label returns a human-readable location such as "page 2" or "pages 2-3".
func (c *Chunk) Label() string {
	switch {
	case c.Section != "" && c.Page == 0:
		return c.Section
	case c.PageEnd > c.Page:
		return "pages " + strconv.Itoa(c.Page) + "-" + strconv.Itoa(c.PageEnd)
	case c.Page > 0:
		return "page " + strconv.Itoa(c.Page)
	}
	return ""
}
