package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kotae/internal/testutil"
)

// FileExtensions are the formats generated by FileFixture. PDF is left to the
// extractor tests since no minimal PDF with a text layer is built here; ODT
// and RTF go through the legacy converter which needs real files.
var FileExtensions = []string{
	".txt", ".md",
	".docx", ".xlsx", ".pptx", ".odp", ".ods",
	".eml",
}

// FileFixture returns a minimal document of the given extension whose body is text.
func FileFixture(ext, text string) ([]byte, error) {
	switch ext {
	case ".txt":
		return []byte(text), nil
	case ".md":
		return []byte("# Benefits Handbook\n\n" + text + "\n"), nil
	case ".docx":
		return testutil.Docx(`<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`), nil
	case ".pptx":
		return testutil.Pptx(text), nil
	case ".odp":
		return odfFixture(`<draw:page draw:name="Benefits"><draw:frame><draw:text-box><text:p>` + text +
			`</text:p></draw:text-box></draw:frame></draw:page>`), nil
	case ".ods":
		return odfFixture(`<table:table table:name="Benefits"><table:table-row><table:table-cell><text:p>` + text +
			`</text:p></table:table-cell></table:table-row></table:table>`), nil
	case ".xlsx":
		return xlsxFixture(text)
	case ".eml":
		return testutil.Email("Benefits handbook", text), nil
	}
	return nil, fmt.Errorf("no fixture for %q", ext)
}

func odfFixture(body string) []byte {
	contentXML := `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"` +
		` xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"` +
		` xmlns:draw="urn:oasis:names:tc:opendocument:xmlns:drawing:1.0"` +
		` xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0">` +
		`<office:body>` + body + `</office:body></office:document-content>`
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("content.xml")
	_, _ = fw.Write([]byte(contentXML))
	_ = w.Close()
	return buf.Bytes()
}

func xlsxFixture(text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", text); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
