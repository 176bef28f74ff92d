package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/hyperjump/kotae/pkg/utils"
)

// HashEmbedder is a deterministic, model-free embedder. It feature-hashes stemmed
// content terms and their bigrams into a fixed number of dimensions, so texts
// sharing vocabulary land close together. Dimension 0 is reserved for texts
// without content terms.
type HashEmbedder struct {
	dimensions int
}

const bigramWeight = 0.5

// NewHashEmbedder returns a HashEmbedder; dimensions below 2 default to 384.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions < 2 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the hashed vector for text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimensions)
	terms := utils.ContentTerms(text)
	weights := make(map[string]float64)
	for i, t := range terms {
		s := utils.Stem(t)
		weights[s]++
		if i > 0 {
			weights[utils.Stem(terms[i-1])+" "+s] += bigramWeight
		}
	}
	if len(weights) == 0 {
		v[0] = 1
		return v
	}
	// sorted so float accumulation order is fixed
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h := fnv.New32a()
		_, _ = h.Write([]byte(k))
		sum := h.Sum32()
		idx := 1 + int(sum%uint32(e.dimensions-1))
		w := float32(1 + math.Log(weights[k]))
		if sum&(1<<31) != 0 {
			w = -w
		}
		v[idx] += w
	}
	utils.NormalizeL2(v)
	if isZero(v) {
		v[0] = 1
	}
	return v
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Dimensions returns the vector length.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Model identifies the hashing scheme and width.
func (e *HashEmbedder) Model() string { return fmt.Sprintf("hash-v1-%d", e.dimensions) }

// Close is a no-op.
func (e *HashEmbedder) Close() error { return nil }
