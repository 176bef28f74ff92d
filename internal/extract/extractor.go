// Package extract turns raw document bytes into plain text, one part per page,
// slide, sheet or section, so that downstream chunks can carry a location label.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
)

// Page is one page or part of an extracted document. Number is 1-based.
type Page struct {
	Number  int
	Section string
	Text    string
}

// Extraction is the text content of a document.
type Extraction struct {
	Format models.Format
	Title  string
	Pages  []Page
}

// Text joins all page texts with blank lines.
func (x *Extraction) Text() string {
	parts := make([]string, 0, len(x.Pages))
	for _, p := range x.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Empty reports whether no page carries any non-whitespace text.
func (x *Extraction) Empty() bool {
	for _, p := range x.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

type extractFunc func(content []byte) (*Extraction, error)

// Extractor extracts plain text from document bytes.
type Extractor struct {
	logger   *zap.Logger
	handlers map[models.Format]extractFunc
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns an Extractor for every supported format.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		handlers: map[models.Format]extractFunc{
			models.FormatPDF:      extractPDF,
			models.FormatDOCX:     extractDOCX,
			models.FormatEmail:    extractEmail,
			models.FormatText:     extractPlain,
			models.FormatMarkdown: extractMarkdown,
			models.FormatXLSX:     extractExcel,
			models.FormatPPTX:     extractPPTX,
			models.FormatODP:      extractODP,
			models.FormatODS:      extractODS,
			models.FormatODT:      extractLegacy(models.FormatODT),
			models.FormatRTF:      extractLegacy(models.FormatRTF),
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Supports reports whether f can be extracted.
func (e *Extractor) Supports(f models.Format) bool {
	_, ok := e.handlers[f]
	return ok
}

// Extract returns the text of content interpreted as format f.
// Unknown formats fail with an unsupported_format error, malformed content with parse_error.
func (e *Extractor) Extract(content []byte, f models.Format) (*Extraction, error) {
	h, ok := e.handlers[f]
	if !ok {
		return nil, errs.E(errs.UnsupportedFormat, "extract", "format %q is not supported", f)
	}
	x, err := h(content)
	if err != nil {
		if errs.KindOf(err) == errs.UnsupportedFormat {
			return nil, err
		}
		return nil, errs.Wrap(errs.Parse, "extract."+string(f), err, fmt.Sprintf("could not parse %s document", f))
	}
	x.Format = f
	for i := range x.Pages {
		x.Pages[i].Text = normalizeText(x.Pages[i].Text)
	}
	if e.logger != nil {
		e.logger.Debug("extracted document",
			zap.String("format", string(f)),
			zap.Int("pages", len(x.Pages)),
			zap.Int("bytes", len(content)))
	}
	return x, nil
}

// ExtractFile reads path and extracts it using the format implied by its extension.
func (e *Extractor) ExtractFile(path string) (*Extraction, error) {
	f, ok := FormatForExt(filepath.Ext(path))
	if !ok {
		return nil, errs.E(errs.UnsupportedFormat, "extract", "unsupported file extension %q", filepath.Ext(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	x, err := e.Extract(content, f)
	if err != nil {
		return nil, err
	}
	if x.Title == "" {
		x.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return x, nil
}

// FormatForExt maps a file extension (with or without the dot) to a format.
func FormatForExt(ext string) (models.Format, bool) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "pdf":
		return models.FormatPDF, true
	case "docx":
		return models.FormatDOCX, true
	case "eml", "msg":
		return models.FormatEmail, true
	case "txt", "text", "rst", "log", "csv":
		return models.FormatText, true
	case "md", "markdown":
		return models.FormatMarkdown, true
	case "xlsx":
		return models.FormatXLSX, true
	case "pptx":
		return models.FormatPPTX, true
	case "odp":
		return models.FormatODP, true
	case "ods":
		return models.FormatODS, true
	case "odt":
		return models.FormatODT, true
	case "rtf":
		return models.FormatRTF, true
	}
	return "", false
}

// normalizeText makes text valid UTF-8, unifies line endings and trims trailing
// spaces on each line.
func normalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
