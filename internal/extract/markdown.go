package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// splitHeadingLevel is the deepest heading that starts a new part.
const splitHeadingLevel = 3

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// extractMarkdown splits the document at headings; each heading's text becomes the
// section label of the part it opens.
func extractMarkdown(content []byte) (*Extraction, error) {
	doc := markdownParser.Parse(text.NewReader(content))

	type cut struct {
		offset int
		title  string
	}
	var cuts []cut
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > splitHeadingLevel || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := seg.Start
		for start > 0 && content[start-1] != '\n' {
			start--
		}
		cuts = append(cuts, cut{offset: start, title: strings.TrimSpace(string(seg.Value(content)))})
	}

	x := &Extraction{}
	add := func(section string, body []byte) {
		t := stripHeadingMarks(string(body))
		if strings.TrimSpace(t) == "" && section == "" {
			return
		}
		x.Pages = append(x.Pages, Page{Number: len(x.Pages) + 1, Section: section, Text: t})
	}
	prev := 0
	section := ""
	for _, c := range cuts {
		add(section, content[prev:c.offset])
		prev, section = c.offset, c.title
	}
	add(section, content[prev:])
	if len(x.Pages) == 0 {
		x.Pages = []Page{{Number: 1}}
	}
	if len(cuts) > 0 {
		x.Title = cuts[0].title
	}
	return x, nil
}

// stripHeadingMarks removes leading ATX '#' markers so headings read as plain lines.
func stripHeadingMarks(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		trimmed := strings.TrimLeft(l, " ")
		if strings.HasPrefix(trimmed, "#") {
			lines[i] = strings.TrimSpace(strings.TrimRight(strings.TrimLeft(trimmed, "#"), "#"))
		}
	}
	return strings.Join(lines, "\n")
}
