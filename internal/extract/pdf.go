package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

func extractPDF(content []byte) (x *Extraction, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	x = &Extraction{}
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			x.Pages = append(x.Pages, Page{Number: i, Section: fmt.Sprintf("Page %d", i)})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		x.Pages = append(x.Pages, Page{Number: i, Section: fmt.Sprintf("Page %d", i), Text: text})
	}
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	return x, nil
}
