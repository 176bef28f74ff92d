package retrieval

import (
	"math"
	"testing"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

func ch(id string, seq int) models.Chunk {
	return models.Chunk{ID: id, DocumentID: "d", Seq: seq}
}

func TestFuse(t *testing.T) {
	semantic := []vector.Hit{{Chunk: ch("a", 0), Score: 0.9}, {Chunk: ch("b", 1), Score: 0.5}}
	lexical := []keyword.Hit{{Chunk: ch("b", 1), Score: 8}, {Chunk: ch("c", 2), Score: 4}}

	got := Fuse(semantic, lexical, 0.7, 0.3)
	want := map[string]float64{
		"a": 0.7 * 0.9,
		"b": 0.7*0.5 + 0.3*1,
		"c": 0.3 * 0.5,
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	for _, c := range got {
		if math.Abs(c.Score-want[c.Chunk.ID]) > 1e-9 {
			t.Errorf("%s score = %v, want %v", c.Chunk.ID, c.Score, want[c.Chunk.ID])
		}
	}
	if got[0].Chunk.ID != "b" || got[1].Chunk.ID != "a" || got[2].Chunk.ID != "c" {
		t.Errorf("order = %s %s %s, want b a c", got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID)
	}
	if got[0].Similarity != 0.5 || got[0].Keyword != 1 {
		t.Errorf("b components = %v/%v", got[0].Similarity, got[0].Keyword)
	}
}

func TestFuse_WeightsNormalized(t *testing.T) {
	got := Fuse([]vector.Hit{{Chunk: ch("a", 0), Score: 1}}, []keyword.Hit{{Chunk: ch("a", 0), Score: 3}}, 2, 2)
	if len(got) != 1 || math.Abs(got[0].Score-1) > 1e-9 {
		t.Fatalf("got %+v, want a single candidate scored 1", got)
	}

	got = Fuse([]vector.Hit{{Chunk: ch("a", 0), Score: 0.4}}, nil, 0, 0)
	if math.Abs(got[0].Score-0.4) > 1e-9 {
		t.Errorf("zero weights: score = %v, want similarity 0.4", got[0].Score)
	}
}

func TestFromSemantic_ClampsAndBreaksTies(t *testing.T) {
	got := FromSemantic([]vector.Hit{
		{Chunk: ch("late", 5), Score: 0.6},
		{Chunk: ch("early", 1), Score: 0.6},
		{Chunk: ch("neg", 0), Score: -0.2},
	})
	if got[0].Chunk.ID != "early" || got[1].Chunk.ID != "late" {
		t.Errorf("tie order = %s, %s; want early, late", got[0].Chunk.ID, got[1].Chunk.ID)
	}
	if got[2].Score != 0 {
		t.Errorf("negative similarity clamped to %v, want 0", got[2].Score)
	}
}

func TestFromKeyword(t *testing.T) {
	got := FromKeyword([]keyword.Hit{{Chunk: ch("a", 0), Score: 2}, {Chunk: ch("b", 1), Score: 4}})
	if got[0].Chunk.ID != "b" || got[0].Score != 1 || got[1].Score != 0.5 {
		t.Errorf("got %+v", got)
	}
	if got[1].Similarity != got[1].Score {
		t.Errorf("similarity %v should mirror score %v", got[1].Similarity, got[1].Score)
	}
}
