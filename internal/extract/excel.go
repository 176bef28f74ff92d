package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel returns one part per sheet, rows rendered as " | "-joined cells.
func extractExcel(content []byte) (*Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	x := &Extraction{}
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			if line := joinCells(row); line != "" {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
		}
		x.Pages = append(x.Pages, Page{Number: i + 1, Section: sheet, Text: buf.String()})
	}
	return x, nil
}

func joinCells(cells []string) string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, " | ")
}
