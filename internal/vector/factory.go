package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses exact in-memory search with copy-on-write snapshots.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeChromem stores vectors in a chromem-go collection.
	IndexTypeChromem IndexType = "chromem"
	// IndexTypeFAISS uses a FAISS flat index.
	// Requires FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// Options selects and sizes an index.
type Options struct {
	Type       string
	Dimensions int
	// Model is the embedding model version the vectors come from.
	Model string
	// Path is the persistence location: a file for memory and faiss, a
	// directory for chromem. Empty disables persistence.
	Path string
}

// New creates a vector index of the requested type.
func New(opts Options) (Index, error) {
	switch IndexType(opts.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(opts.Dimensions, opts.Model, opts.Path)
	case IndexTypeChromem:
		return NewChromemIndex(opts.Dimensions, opts.Model, opts.Path)
	case IndexTypeFAISS:
		return NewFAISSIndex(opts.Dimensions, opts.Model, opts.Path)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, chromem, faiss)", opts.Type)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, "", "")
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
