// Package ingest fetches source documents, detects their format, extracts text and
// splits it into overlapping chunks.
package ingest

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
)

// Chunker splits extracted text into overlapping windows of whitespace tokens.
// Windows end at a sentence or paragraph boundary when one falls in the second
// half of the window; otherwise they are cut at the size limit.
type Chunker struct {
	size    int
	overlap int
	minSize int
}

// NewChunker creates a chunker. size and overlap are in tokens; a trailing chunk
// with fewer than minSize new tokens is merged into its predecessor.
func NewChunker(size, overlap, minSize int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	if minSize < 0 {
		minSize = 0
	}
	return &Chunker{size: size, overlap: overlap, minSize: minSize}
}

type token struct {
	start, end  int // byte offsets in the joined document text
	page        int
	section     string
	sentenceEnd bool
}

// Chunk splits x into chunks for document docID. It never returns zero chunks:
// an empty document yields a single empty chunk.
func (c *Chunker) Chunk(docID string, x *extract.Extraction) []models.Chunk {
	text, toks := tokenize(x)
	if len(toks) == 0 {
		page := 1
		if len(x.Pages) > 0 {
			page = x.Pages[0].Number
		}
		return []models.Chunk{{ID: chunkID(docID, 0), DocumentID: docID, Page: page, PageEnd: page}}
	}

	spans := c.windows(toks)
	chunks := make([]models.Chunk, len(spans))
	for i, s := range spans {
		first, last := toks[s[0]], toks[s[1]-1]
		chunks[i] = models.Chunk{
			ID:         chunkID(docID, i),
			DocumentID: docID,
			Seq:        i,
			Text:       text[first.start:last.end],
			Start:      first.start,
			End:        last.end,
			Page:       first.page,
			PageEnd:    last.page,
			Section:    first.section,
			TokenCount: s[1] - s[0],
		}
	}
	return chunks
}

// windows returns [start, end) token index pairs.
func (c *Chunker) windows(toks []token) [][2]int {
	n := len(toks)
	var spans [][2]int
	start := 0
	for {
		end := n
		if limit := start + c.size; limit < n {
			end = limit
			floor := start + c.size/2
			if floor <= start+c.overlap {
				floor = start + c.overlap + 1
			}
			for j := limit; j > floor; j-- {
				if toks[j-1].sentenceEnd {
					end = j
					break
				}
			}
		}
		spans = append(spans, [2]int{start, end})
		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	if k := len(spans); k > 1 && spans[k-1][1]-spans[k-2][1] < c.minSize {
		spans[k-2][1] = spans[k-1][1]
		spans = spans[:k-1]
	}
	return spans
}

// tokenize joins page texts with blank lines (as Extraction.Text does) and returns
// the joined text with its whitespace tokens.
func tokenize(x *extract.Extraction) (string, []token) {
	var b strings.Builder
	var toks []token
	for pi, p := range x.Pages {
		if pi > 0 {
			b.WriteString("\n\n")
		}
		base := b.Len()
		b.WriteString(p.Text)
		pageToks := scanTokens(p.Text, base, p.Number, p.Section)
		if len(pageToks) > 0 {
			pageToks[len(pageToks)-1].sentenceEnd = true
		}
		toks = append(toks, pageToks...)
	}
	return b.String(), toks
}

func scanTokens(s string, base, page int, section string) []token {
	var toks []token
	i := 0
	for i < len(s) {
		for i < len(s) && isSpaceByte(s[i]) {
			i++
		}
		if i >= len(s) {
			break
		}
		j := i
		for j < len(s) && !isSpaceByte(s[j]) {
			j++
		}
		t := token{start: base + i, end: base + j, page: page, section: section}
		t.sentenceEnd = endsSentence(s[i:j]) || paragraphBreakAt(s, j)
		toks = append(toks, t)
		i = j
	}
	return toks
}

func endsSentence(word string) bool {
	w := strings.TrimRightFunc(word, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']' || r == '’' || r == '”'
	})
	if w == "" {
		return false
	}
	last := w[len(w)-1]
	return last == '.' || last == '!' || last == '?'
}

// paragraphBreakAt reports whether the whitespace run starting at i contains a blank line.
func paragraphBreakAt(s string, i int) bool {
	newlines := 0
	for ; i < len(s) && isSpaceByte(s[i]); i++ {
		if s[i] == '\n' {
			newlines++
			if newlines >= 2 {
				return true
			}
		}
	}
	return false
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func chunkID(docID string, seq int) string {
	return fmt.Sprintf("%s#%d", docID, seq)
}
