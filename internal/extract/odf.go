package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const odfContentPath = "content.xml"

// extractODP returns one part per presentation page (draw:page).
func extractODP(content []byte) (*Extraction, error) {
	pages, err := extractODF(content, "page")
	if err != nil {
		return nil, fmt.Errorf("extract ODP: %w", err)
	}
	return &Extraction{Pages: pages}, nil
}

// extractODS returns one part per sheet (table:table), rows as " | "-joined cells.
func extractODS(content []byte) (*Extraction, error) {
	pages, err := extractODF(content, "table")
	if err != nil {
		return nil, fmt.Errorf("extract ODS: %w", err)
	}
	return &Extraction{Pages: pages}, nil
}

// extractODF walks content.xml and splits it at elements whose local name is unit.
// Paragraphs (text:p, text:h) become lines; inside table rows, cells are joined.
func extractODF(content []byte, unit string) ([]Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	data, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%s not found", odfContentPath)
	}

	var (
		pages            []Page
		part, para, cell strings.Builder
		row              []string
		name             string
		paraDepth        int
		inCell           bool
	)
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", odfContentPath, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case unit:
				part.Reset()
				name = attr(t, "name")
			case "p", "h":
				paraDepth++
			case "s":
				para.WriteByte(' ')
			case "tab":
				para.WriteByte('\t')
			case "line-break":
				para.WriteByte('\n')
			case "table-row":
				row = row[:0]
			case "table-cell":
				inCell = true
				cell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case unit:
				pages = append(pages, Page{Number: len(pages) + 1, Section: name, Text: part.String()})
			case "p", "h":
				paraDepth--
				if paraDepth > 0 {
					continue
				}
				text := strings.TrimSpace(para.String())
				para.Reset()
				if text == "" {
					continue
				}
				if inCell {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
				} else {
					part.WriteString(text)
					part.WriteByte('\n')
				}
			case "table-cell":
				inCell = false
				row = append(row, cell.String())
			case "table-row":
				if line := joinCells(row); line != "" {
					part.WriteString(line)
					part.WriteByte('\n')
				}
			}
		case xml.CharData:
			if paraDepth > 0 {
				para.Write(t)
			}
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no %s elements found", unit)
	}
	return pages, nil
}
