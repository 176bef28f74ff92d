//go:build !cgo
// +build !cgo

package rerank

import "github.com/hyperjump/kotae/internal/onnxrt"

// ONNXScorer is unavailable without CGO.
type ONNXScorer struct {
	Scorer
}

// NewONNXScorer always fails without CGO.
func NewONNXScorer(_, _ string, _ int) (*ONNXScorer, error) {
	return nil, onnxrt.ErrNoCGO
}
