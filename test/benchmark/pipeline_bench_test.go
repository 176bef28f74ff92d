package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/synth"
	"github.com/hyperjump/kotae/internal/testutil"
	"github.com/hyperjump/kotae/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	sem := make([]vector.Hit, 100)
	kw := make([]keyword.Hit, 100)
	for i := 0; i < 100; i++ {
		c := models.Chunk{ID: fmt.Sprintf("doc#%d", i), DocumentID: "doc", Seq: i}
		sem[i] = vector.Hit{Chunk: c, Score: float64(100-i) / 100}
		kw[i] = keyword.Hit{Chunk: c, Score: float64(i) / 10}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = retrieval.Fuse(sem, kw, 0.5, 0.5)
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := vector.NewMemoryIndex(384, "bench", "")
	ctx := context.Background()
	for d := 0; d < 10; d++ {
		docID := fmt.Sprintf("doc%d", d)
		entries := make([]vector.Entry, 100)
		for i := range entries {
			v := make([]float32, 384)
			v[(d*100+i)%384] = 1
			entries[i] = vector.Entry{Chunk: models.Chunk{ID: fmt.Sprintf("%s#%d", docID, i), DocumentID: docID, Seq: i}, Vector: v}
		}
		_ = idx.Add(ctx, docID, entries)
	}
	query := make([]float32, 384)
	query[7] = 1.0
	b.Run("all", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = idx.Search(ctx, query, 10)
		}
	})
	b.Run("one document", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = idx.Search(ctx, query, 10, vector.InDocument("doc3"))
		}
	})
}

func BenchmarkHashEmbedder_Embed(b *testing.B) {
	e := embedding.NewHashEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "what is the grace period for premium payment")
	}
}

func BenchmarkChunker(b *testing.B) {
	x := &extract.Extraction{Format: models.FormatText}
	for i, p := range testutil.PolicyPages() {
		x.Pages = append(x.Pages, extract.Page{Number: i + 1, Text: p})
	}
	c := ingest.NewChunker(300, 50, 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Chunk("policy", x)
	}
}

func BenchmarkLexicalScorer(b *testing.B) {
	s := rerank.NewLexicalScorer(nil)
	passages := make([]string, 20)
	for i := range passages {
		passages[i] = strings.Repeat(fmt.Sprintf("Clause %d covers hospitalisation after a waiting period. ", i), 8)
	}
	passages[13] = testutil.GraceSentence
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Score(ctx, testutil.GraceQuery, passages)
	}
}

func BenchmarkExtractiveSynthesis(b *testing.B) {
	syn := synth.New(nil, config.LLMConfig{})
	passages := make([]models.Candidate, 5)
	for i := range passages {
		passages[i] = models.Candidate{
			Chunk: models.Chunk{ID: fmt.Sprintf("doc#%d", i), DocumentID: "doc", Seq: i, Page: 1,
				Text: "Maternity expenses are covered after a waiting period of nine months. " + testutil.GraceSentence},
			Score: 1 - float64(i)/10,
		}
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = syn.Synthesize(ctx, "Is maternity covered?", passages)
	}
}
