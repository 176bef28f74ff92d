// Package cli renders pipeline results for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one answer per line, nothing else.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s. Unknown names are text.
func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputJSON:
		return OutputJSON
	case OutputCompact:
		return OutputCompact
	}
	return OutputText
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswers writes a batch response to w in the given format.
func WriteAnswers(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		for _, a := range resp.Answers {
			if a.Error != nil {
				fmt.Fprintf(w, "error [%s]: %s\n", a.Error.Kind, a.Error.Message)
				continue
			}
			fmt.Fprintln(w, strings.Join(strings.Fields(a.Answer), " "))
		}
		return nil
	}
	fmt.Fprintf(w, "\nDocument %s: %d answers in %dms\n\n", resp.DocumentID, len(resp.Answers), resp.ProcessingTimeMS)
	for i := range resp.Answers {
		writeAnswer(w, i+1, &resp.Answers[i])
	}
	return nil
}

func writeAnswer(w io.Writer, n int, a *models.Answer) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Q%d: %s\n", n, a.Question)
	if a.Error != nil {
		fmt.Fprintf(w, "Error [%s]: %s\n\n", a.Error.Kind, a.Error.Message)
		return
	}
	fmt.Fprintf(w, "\n%s\n\n", a.Answer)
	meta := fmt.Sprintf("Confidence: %.2f | Strategy: %s", a.Confidence, a.Strategy)
	if a.Decision != "" {
		meta = "Decision: " + a.Decision + " | " + meta
	}
	if len(a.Degraded) > 0 {
		meta += " | Degraded: " + strings.Join(a.Degraded, ",")
	}
	fmt.Fprintln(w, meta)
	for _, ev := range a.Evidence {
		loc := ev.Location
		if loc == "" {
			loc = fmt.Sprintf("chunk %d", ev.Seq)
		}
		fmt.Fprintf(w, "  [%s, %.3f] %s\n", loc, ev.Score, TruncateWords(strings.Join(strings.Fields(ev.Text), " "), 30))
	}
	fmt.Fprintln(w)
}

// WriteDocuments writes a document listing.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		if format == OutputCompact {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Status, d.Source)
			continue
		}
		fmt.Fprintf(w, "%s  %-8s %-8s %4d chunks  %s\n", d.ID, d.Status, d.Format, d.ChunkCount, Truncate(displayName(d), 60))
		if d.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", d.Error)
		}
	}
	return nil
}

func displayName(d *models.Document) string {
	if d.Source != "" {
		return d.Source
	}
	return d.Title
}

// WriteHealth writes a health report.
func WriteHealth(w io.Writer, h models.Health, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, h)
	}
	fmt.Fprintf(w, "Status: %s (mode %s)\n", h.Status, h.Mode)
	fmt.Fprintf(w, "Documents: %d, chunks: %d\n", h.Documents, h.Chunks)
	for _, c := range h.Components {
		state := "ok"
		if !c.Available {
			state = "unavailable"
		}
		line := fmt.Sprintf("  %-14s %-22s %s", c.Name, c.Backend, state)
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}
	if !h.CheckedAt.IsZero() {
		fmt.Fprintf(w, "Checked: %s\n", h.CheckedAt.Format(time.RFC3339))
	}
	return nil
}

// WriteStats writes index statistics and disk usage.
func WriteStats(w io.Writer, s *pipeline.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Documents:        %d\n", s.Documents)
	fmt.Fprintf(w, "Chunks:           %d\n", s.Chunks)
	fmt.Fprintf(w, "Vector index:     %s (%d vectors, %d dimensions)\n", s.IndexType, s.IndexSize, s.Dimensions)
	fmt.Fprintf(w, "Embedding model:  %s\n", s.EmbeddingModel)
	fmt.Fprintf(w, "Reranker:         %s\n", s.RerankBackend)
	fmt.Fprintf(w, "Generation:       %s (mode %s)\n", s.GenerationBackend, s.Mode)
	if total := s.Disk.Total(); total > 0 {
		fmt.Fprintf(w, "Disk usage:       %s\n", FormatBytes(total))
		for name, n := range s.Disk {
			fmt.Fprintf(w, "  %-14s %s\n", name, FormatBytes(n))
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string { return utils.Truncate(s, maxLen) }

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
