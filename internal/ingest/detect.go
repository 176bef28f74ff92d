package ingest

import (
	"archive/zip"
	"bufio"
	"bytes"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
)

var contentTypeFormats = map[string]models.Format{
	"application/pdf": models.FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   models.FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         models.FormatXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": models.FormatPPTX,
	"application/vnd.oasis.opendocument.presentation":                           models.FormatODP,
	"application/vnd.oasis.opendocument.spreadsheet":                            models.FormatODS,
	"application/vnd.oasis.opendocument.text":                                   models.FormatODT,
	"application/rtf":  models.FormatRTF,
	"text/rtf":         models.FormatRTF,
	"message/rfc822":   models.FormatEmail,
	"text/plain":       models.FormatText,
	"text/markdown":    models.FormatMarkdown,
	"text/x-markdown":  models.FormatMarkdown,
}

// DetectFormat decides the format of a document. An explicit hint wins, then a
// specific Content-Type, then the file extension of name, then the content itself.
func DetectFormat(hint models.Format, contentType, name string, data []byte) (models.Format, error) {
	if hint != "" {
		if f, ok := models.ParseFormat(strings.ToLower(string(hint))); ok {
			return f, nil
		}
		return "", errs.E(errs.UnsupportedFormat, "detect", "unknown format hint %q", hint)
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := contentTypeFormats[mt]; ok {
			// servers label almost anything text/plain; let a clear signature override it
			if f != models.FormatText {
				return f, nil
			}
			if sniffed, ok := sniff(data); ok && sniffed != models.FormatEmail {
				return sniffed, nil
			}
			return f, nil
		}
	}
	if name != "" {
		if f, ok := extract.FormatForExt(path.Ext(name)); ok {
			return f, nil
		}
	}
	if f, ok := sniff(data); ok {
		return f, nil
	}
	return "", errs.E(errs.UnsupportedFormat, "detect", "cannot determine document format; convert it to PDF, DOCX, email or text")
}

// sniff recognizes a format from magic bytes and structure.
func sniff(data []byte) (models.Format, bool) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	switch {
	case bytes.Contains(head, []byte("%PDF-")):
		return models.FormatPDF, true
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return sniffZip(data)
	case bytes.HasPrefix(bytes.TrimSpace(head), []byte(`{\rtf`)):
		return models.FormatRTF, true
	case looksLikeEmail(head):
		return models.FormatEmail, true
	}
	if len(data) == 0 {
		return models.FormatText, true
	}
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "text/plain") && utf8.Valid(head[:validPrefix(head)]) {
		return models.FormatText, true
	}
	return "", false
}

// validPrefix trims an incomplete trailing rune so that a cut multi-byte
// sequence does not make the head look binary.
func validPrefix(b []byte) int {
	n := len(b)
	for i := 0; i < utf8.UTFMax && n > 0; i++ {
		if utf8.Valid(b[:n]) {
			return n
		}
		n--
	}
	return len(b)
}

func sniffZip(data []byte) (models.Format, bool) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return models.FormatDOCX, true
		case f.Name == "ppt/presentation.xml":
			return models.FormatPPTX, true
		case f.Name == "xl/workbook.xml":
			return models.FormatXLSX, true
		case f.Name == "mimetype":
			rc, err := f.Open()
			if err != nil {
				return "", false
			}
			mt, _ := io.ReadAll(io.LimitReader(rc, 128))
			_ = rc.Close()
			if ff, ok := contentTypeFormats[strings.TrimSpace(string(mt))]; ok {
				return ff, true
			}
		}
	}
	if extract.HasZipMember(data, "[Content_Types].xml") {
		return models.FormatDOCX, true
	}
	return "", false
}

var emailHeaders = []string{"from", "to", "subject", "date", "received", "mime-version", "message-id", "return-path"}

// looksLikeEmail reports whether data starts with an RFC 5322 header block that
// contains at least two well-known headers.
func looksLikeEmail(head []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(head))
	known := 0
	for lines := 0; sc.Scan() && lines < 30; lines++ {
		line := sc.Text()
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 || strings.ContainsAny(line[:i], " \t") {
			return false
		}
		name := strings.ToLower(line[:i])
		for _, h := range emailHeaders {
			if name == h {
				known++
			}
		}
	}
	return known >= 2
}
