// Package testutil builds documents used by tests across packages: a three-page
// insurance policy with a known answer, and minimal office files.
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// GraceSentence is the one sentence in PolicyPages that answers GraceQuery.
const GraceSentence = "A grace period of thirty days applies to premium payment."

// GraceQuery is the question whose answer is GraceSentence.
const GraceQuery = "grace period for premium payment"

const (
	policySentences   = 165
	sentencesPerPage  = 55
	graceSentenceSeq  = 80 // lands on page 2
	sentencesPerBlock = 5
)

// Every filler sentence has exactly ten whitespace tokens, as does GraceSentence.
var fillers = []string{
	"Section %d describes the obligations of the insured member clearly.",
	"Claims under clause %d must be filed with supporting documents.",
	"Hospitalisation expenses listed in item %d are reimbursed after review.",
	"The insurer may request records for treatment reference number %d.",
	"Cosmetic procedures under schedule %d are excluded from this policy.",
	"Pre-existing conditions in category %d require a long waiting time.",
	"Room rent for ward type %d is capped at limits.",
}

// PolicyPages returns three pages of 550 tokens each (1,650 in total). With a chunk
// size of 300 and an overlap of 50 the document splits into exactly seven chunks.
func PolicyPages() []string {
	pages := make([]string, 0, policySentences/sentencesPerPage)
	var b strings.Builder
	for i := 0; i < policySentences; i++ {
		s := GraceSentence
		if i != graceSentenceSeq {
			s = fmt.Sprintf(fillers[i%len(fillers)], i+1)
		}
		switch {
		case i%sentencesPerPage == 0:
		case i%sentencesPerBlock == 0:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
		b.WriteString(s)
		if (i+1)%sentencesPerPage == 0 {
			pages = append(pages, b.String())
			b.Reset()
		}
	}
	return pages
}

// PolicyText returns PolicyPages joined with form feeds, the page separator
// understood by the plain-text extractor.
func PolicyText() []byte {
	return []byte(strings.Join(PolicyPages(), "\f"))
}

// PolicyDocx returns PolicyPages as a .docx with explicit page breaks.
func PolicyDocx() []byte {
	var body strings.Builder
	for pi, page := range PolicyPages() {
		for li, line := range strings.Split(page, "\n") {
			brk := ""
			if pi > 0 && li == 0 {
				brk = `<w:br w:type="page"/>`
			}
			body.WriteString(`<w:p><w:r>` + brk + `<w:t>` + line + `</w:t></w:r></w:p>`)
		}
	}
	return Docx(body.String())
}

// Docx returns a minimal .docx whose body is the given WordprocessingML.
func Docx(bodyXML string) []byte {
	return zipOf(map[string]string{
		"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			bodyXML + `</w:body></w:document>`,
	})
}

// Pptx returns a minimal .pptx with one slide per text.
func Pptx(slides ...string) []byte {
	files := map[string]string{"ppt/presentation.xml": `<p:presentation xmlns:p="p"/>`}
	for i, s := range slides {
		files[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] =
			`<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + s +
				`</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	return zipOf(files)
}

// Email returns a plain-text RFC 5322 message.
func Email(subject, body string) []byte {
	return []byte("From: hr@example.com\r\nTo: staff@example.com\r\nSubject: " + subject +
		"\r\nDate: Mon, 2 Jan 2006 15:04:05 -0700\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + body)
}

func zipOf(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(content))
	}
	_ = w.Close()
	return buf.Bytes()
}
