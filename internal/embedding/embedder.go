// Package embedding maps chunk and query text into a shared dense vector space.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must return
// vectors of length Dimensions() for every input and the same vector for the
// same text whether it is embedded alone or in a batch.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model names the model version; vectors from different models must not share an index.
	Model() string
	Close() error
}

// Reloader is implemented by embedders that can drop loaded model state.
type Reloader interface {
	Reload() error
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
