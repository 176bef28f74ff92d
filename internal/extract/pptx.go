package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX returns one part per slide, in slide order.
func extractPPTX(content []byte) (*Extraction, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, name: f.Name})
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	x := &Extraction{}
	for _, s := range slides {
		data, err := readZipFile(zr, s.name)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, p := range atTag.FindAllSubmatch(data, -1) {
			if t := strings.TrimSpace(unescapeXML(string(p[1]))); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		x.Pages = append(x.Pages, Page{Number: s.n, Section: fmt.Sprintf("Slide %d", s.n), Text: b.String()})
	}
	return x, nil
}

var xmlEntities = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")

func unescapeXML(s string) string { return xmlEntities.Replace(s) }
