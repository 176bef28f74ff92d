package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// Override elements may list PartName and ContentType in either order.
var (
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// extractDOCX reads the main document part and renders paragraphs one per line
// and table rows as " | "-joined cells. Rendered page breaks start a new page.
func extractDOCX(content []byte) (*Extraction, error) {
	body, err := readDocxBody(content)
	if err != nil {
		return nil, err
	}
	pages, err := parseDocxXML(body)
	if err != nil {
		return nil, err
	}
	return &Extraction{Pages: pages}, nil
}

func readDocxBody(content []byte) ([]byte, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err == nil {
		defer r.Close()
		if body := r.Editable().GetContent(); body != "" {
			return []byte(body), nil
		}
	}
	// Some producers name the main part differently; [Content_Types].xml says where it is.
	zr, zerr := openZip(content)
	if zerr != nil {
		return nil, zerr
	}
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	body, rerr := readZipFile(zr, docPath)
	if rerr != nil {
		return nil, rerr
	}
	if body == nil {
		return nil, fmt.Errorf("%s not found", docPath)
	}
	return body, nil
}

// findDocxMainDocumentPath returns the main document path without the leading slash,
// or "" if [Content_Types].xml does not name one.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	data, err := readZipFile(zr, contentTypesPath)
	if err != nil || data == nil {
		return ""
	}
	s := string(data)
	if m := partNameRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	if m := partNameRe2.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	return ""
}

type docxWalker struct {
	pages    []Page
	page     strings.Builder
	para     strings.Builder
	cell     strings.Builder
	row      []string
	tblDepth int
	inText   bool
	heading  bool
	section  string
}

func parseDocxXML(data []byte) ([]Page, error) {
	w := &docxWalker{}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t.Name.Local)
		case xml.CharData:
			if w.inText {
				w.para.Write(t)
			}
		}
	}
	w.flushPage()
	if len(w.pages) == 0 {
		w.pages = []Page{{Number: 1}}
	}
	return w.pages, nil
}

func (w *docxWalker) start(t xml.StartElement) {
	switch t.Name.Local {
	case "t":
		w.inText = true
	case "tab":
		w.para.WriteByte('\t')
	case "br":
		if attr(t, "type") == "page" {
			w.breakPage()
		} else {
			w.para.WriteByte(' ')
		}
	case "lastRenderedPageBreak":
		w.breakPage()
	case "pStyle":
		v := strings.ToLower(attr(t, "val"))
		w.heading = strings.HasPrefix(v, "heading") || v == "title"
	case "tbl":
		w.tblDepth++
	case "tr":
		if w.tblDepth == 1 {
			w.row = w.row[:0]
		}
	case "tc":
		if w.tblDepth == 1 {
			w.cell.Reset()
		}
	}
}

func (w *docxWalker) end(local string) {
	switch local {
	case "t":
		w.inText = false
	case "p":
		text := strings.TrimSpace(w.para.String())
		w.para.Reset()
		if w.tblDepth > 0 {
			if text != "" {
				if w.cell.Len() > 0 {
					w.cell.WriteByte(' ')
				}
				w.cell.WriteString(text)
			}
		} else if text != "" {
			if w.heading {
				w.section = text
			}
			w.page.WriteString(text)
			w.page.WriteByte('\n')
		}
		w.heading = false
	case "tc":
		if w.tblDepth == 1 {
			w.row = append(w.row, w.cell.String())
		}
	case "tr":
		if w.tblDepth == 1 {
			if line := joinCells(w.row); line != "" {
				w.page.WriteString(line)
				w.page.WriteByte('\n')
			}
		}
	case "tbl":
		w.tblDepth--
		if w.tblDepth == 0 {
			w.page.WriteByte('\n')
		}
	}
}

// breakPage ends the current page. Text already seen in the open paragraph
// stays on the page being closed.
func (w *docxWalker) breakPage() {
	if w.tblDepth > 0 {
		return
	}
	if text := strings.TrimSpace(w.para.String()); text != "" {
		w.page.WriteString(text)
		w.page.WriteByte('\n')
	}
	w.para.Reset()
	w.flushPage()
}

func (w *docxWalker) flushPage() {
	text := w.page.String()
	w.page.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	w.pages = append(w.pages, Page{Number: len(w.pages) + 1, Section: w.section, Text: text})
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
