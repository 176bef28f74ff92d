//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

// ErrFAISSUnavailable is returned when the binary was built without FAISS.
var ErrFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

// NewFAISSIndex returns ErrFAISSUnavailable.
func NewFAISSIndex(dimensions int, model, path string) (*FAISSIndex, error) {
	return nil, ErrFAISSUnavailable
}

func (f *FAISSIndex) Add(context.Context, string, []Entry) error { return ErrFAISSUnavailable }
func (f *FAISSIndex) Remove(context.Context, string) error       { return ErrFAISSUnavailable }
func (f *FAISSIndex) Reset(context.Context) error                { return ErrFAISSUnavailable }
func (f *FAISSIndex) Count(string) int                           { return 0 }
func (f *FAISSIndex) Size() int                                  { return 0 }
func (f *FAISSIndex) Dimensions() int                            { return 0 }
func (f *FAISSIndex) Model() string                              { return "" }
func (f *FAISSIndex) Type() string                               { return string(IndexTypeFAISS) }
func (f *FAISSIndex) Persist() error                             { return ErrFAISSUnavailable }
func (f *FAISSIndex) Load() error                                { return ErrFAISSUnavailable }
func (f *FAISSIndex) Close() error                               { return nil }

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(context.Context, []float32, int, ...SearchOption) ([]Hit, error) {
	return nil, ErrFAISSUnavailable
}
