package ingest

import (
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/testutil"
)

func pagesOf(texts ...string) *extract.Extraction {
	x := &extract.Extraction{}
	for i, t := range texts {
		x.Pages = append(x.Pages, extract.Page{Number: i + 1, Text: t})
	}
	return x
}

func TestChunker_policyScenario(t *testing.T) {
	c := NewChunker(300, 50, 20)
	chunks := c.Chunk("doc:policy", pagesOf(testutil.PolicyPages()...))
	if len(chunks) != 7 {
		t.Fatalf("got %d chunks, want 7", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Seq != i {
			t.Errorf("chunk %d has seq %d", i, ch.Seq)
		}
		if ch.TokenCount > 300 {
			t.Errorf("chunk %d has %d tokens", i, ch.TokenCount)
		}
		if got := len(strings.Fields(ch.Text)); got != ch.TokenCount {
			t.Errorf("chunk %d: token count %d, text has %d", i, ch.TokenCount, got)
		}
	}
	if chunks[0].Page != 1 || chunks[6].PageEnd != 3 {
		t.Errorf("page span: first=%d last=%d", chunks[0].Page, chunks[6].PageEnd)
	}
	found := 0
	for _, ch := range chunks {
		if strings.Contains(ch.Text, testutil.GraceSentence) {
			found++
			if ch.Page != 2 && ch.PageEnd != 2 {
				t.Errorf("grace sentence chunk spans pages %d-%d", ch.Page, ch.PageEnd)
			}
		}
	}
	if found == 0 {
		t.Error("grace sentence was split across chunks")
	}
}

func TestChunker_overlap(t *testing.T) {
	c := NewChunker(300, 50, 20)
	chunks := c.Chunk("d", pagesOf(testutil.PolicyPages()...))
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Text)
		cur := strings.Fields(chunks[i].Text)
		tail := strings.Join(prev[len(prev)-50:], " ")
		head := strings.Join(cur[:50], " ")
		if tail != head {
			t.Errorf("chunks %d/%d do not share 50 tokens", i-1, i)
		}
	}
}

func TestChunker_textIsVerbatimSpan(t *testing.T) {
	x := pagesOf("First sentence here.  Second   sentence\nspans lines.", "Page two starts.")
	c := NewChunker(4, 1, 0)
	full := x.Text()
	for _, ch := range c.Chunk("d", x) {
		if full[ch.Start:ch.End] != ch.Text {
			t.Errorf("chunk %d text %q does not match span %q", ch.Seq, ch.Text, full[ch.Start:ch.End])
		}
	}
}

func TestChunker_prefersSentenceBoundary(t *testing.T) {
	// 12 tokens; sentence ends after token 7. Size 10 should cut there, not at 10.
	x := pagesOf("one two three four five six seven. eight nine ten eleven twelve")
	chunks := NewChunker(10, 2, 0).Chunk("d", x)
	if !strings.HasSuffix(chunks[0].Text, "seven.") {
		t.Errorf("first chunk should end at the sentence boundary: %q", chunks[0].Text)
	}
}

func TestChunker_giantParagraph(t *testing.T) {
	words := make([]string, 1000)
	for i := range words {
		words[i] = "word"
	}
	chunks := NewChunker(200, 20, 10).Chunk("d", pagesOf(strings.Join(words, " ")))
	if len(chunks) < 5 {
		t.Fatalf("unbroken paragraph produced %d chunks", len(chunks))
	}
	for _, ch := range chunks[:len(chunks)-1] {
		if ch.TokenCount != 200 {
			t.Errorf("chunk %d has %d tokens, want 200", ch.Seq, ch.TokenCount)
		}
	}
}

func TestChunker_empty(t *testing.T) {
	for _, x := range []*extract.Extraction{pagesOf(""), pagesOf("  \n\n "), {}} {
		chunks := NewChunker(100, 10, 5).Chunk("d", x)
		if len(chunks) != 1 {
			t.Fatalf("empty document: got %d chunks, want 1", len(chunks))
		}
		if chunks[0].Text != "" || chunks[0].DocumentID != "d" || chunks[0].Page != 1 {
			t.Errorf("empty chunk = %+v", chunks[0])
		}
	}
}

func TestChunker_singleWord(t *testing.T) {
	chunks := NewChunker(100, 10, 50).Chunk("d", pagesOf("hello"))
	if len(chunks) != 1 || chunks[0].Text != "hello" || chunks[0].TokenCount != 1 {
		t.Errorf("got %+v", chunks)
	}
}

func TestChunker_mergesSmallTail(t *testing.T) {
	// 105 tokens, size 50, overlap 0: windows 0-50, 50-100, 100-105. The 5-token
	// tail is below min size and joins the previous chunk.
	words := make([]string, 105)
	for i := range words {
		words[i] = "w"
	}
	chunks := NewChunker(50, 0, 10).Chunk("d", pagesOf(strings.Join(words, " ")))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[1].TokenCount != 55 {
		t.Errorf("merged tail has %d tokens, want 55", chunks[1].TokenCount)
	}
}

func TestChunker_deterministicIDs(t *testing.T) {
	x := pagesOf(testutil.PolicyPages()...)
	a := NewChunker(300, 50, 20).Chunk("doc:x", x)
	b := NewChunker(300, 50, 20).Chunk("doc:x", x)
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
	if a[3].ID != "doc:x#3" {
		t.Errorf("ID = %q", a[3].ID)
	}
}

func TestNewChunker_clampsOverlap(t *testing.T) {
	c := NewChunker(100, 100, 0)
	if c.overlap >= c.size {
		t.Errorf("overlap %d should be below size %d", c.overlap, c.size)
	}
}
