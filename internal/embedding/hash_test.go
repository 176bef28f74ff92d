package embedding

import (
	"context"
	"testing"

	"github.com/hyperjump/kotae/pkg/utils"
)

func TestHashEmbedder_deterministic(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	text := "A grace period of thirty days applies to premium payment."

	alone, err := e.Embed(ctx, text)
	if err != nil {
		t.Fatal(err)
	}
	batch, err := e.EmbedBatch(ctx, []string{"unrelated words here", text, "more"})
	if err != nil {
		t.Fatal(err)
	}
	if sim := utils.Cosine(alone, batch[1]); sim < 0.999 {
		t.Errorf("cosine(alone, batch) = %f", sim)
	}
	if len(alone) != 384 {
		t.Errorf("len = %d", len(alone))
	}
}

func TestHashEmbedder_similarity(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "grace period for premium payment")
	hit, _ := e.Embed(ctx, "A grace period of thirty days applies to premium payment.")
	miss, _ := e.Embed(ctx, "The insured must notify the company of any change of address.")
	if utils.Cosine(q, hit) <= utils.Cosine(q, miss) {
		t.Errorf("related text should score higher: hit=%f miss=%f", utils.Cosine(q, hit), utils.Cosine(q, miss))
	}
}

func TestHashEmbedder_emptyText(t *testing.T) {
	e := NewHashEmbedder(8)
	for _, text := range []string{"", "the of and", "   "} {
		v, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		if v[0] != 1 || !isZero(v[1:]) {
			t.Errorf("Embed(%q) = %v, want reserved unit vector", text, v)
		}
	}
}

func TestHashEmbedder_unitLength(t *testing.T) {
	e := NewHashEmbedder(64)
	v, _ := e.Embed(context.Background(), "claims must be filed within ninety days of discharge")
	if d := utils.Dot(v, v); d < 0.999 || d > 1.001 {
		t.Errorf("|v|^2 = %f", d)
	}
	if e.Model() != "hash-v1-64" {
		t.Errorf("model = %q", e.Model())
	}
}

func TestHashEmbedder_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, "x"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
