package vector

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	for _, typ := range []string{"", "memory", "chromem"} {
		t.Run(typ, func(t *testing.T) {
			idx, err := New(Options{Type: typ, Dimensions: 3, Model: "m"})
			if err != nil {
				t.Fatalf("New(%q): %v", typ, err)
			}
			defer idx.Close()
			if err := idx.Add(context.Background(), "a", []Entry{entry("a", 0, 1, 0, 0)}); err != nil {
				t.Fatalf("Add: %v", err)
			}
			if idx.Size() != 1 || idx.Dimensions() != 3 || idx.Model() != "m" {
				t.Errorf("Size=%d Dimensions=%d Model=%q", idx.Size(), idx.Dimensions(), idx.Model())
			}
		})
	}
}

func TestNew_errors(t *testing.T) {
	if _, err := New(Options{Type: "unknown", Dimensions: 3}); err == nil {
		t.Error("expected error for unknown index type")
	}
	if _, err := New(Options{Type: "memory"}); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestNew_FAISS(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Skip("FAISS not available (build with -tags=faiss)")
	}
	idx, err := New(Options{Type: "faiss", Dimensions: 3, Model: "m"})
	if err != nil {
		t.Fatalf("New(faiss): %v", err)
	}
	defer idx.Close()
	if err := idx.Add(context.Background(), "a", []Entry{entry("a", 0, 1, 0, 0)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
}
