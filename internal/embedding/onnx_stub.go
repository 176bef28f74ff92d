//go:build !cgo
// +build !cgo

package embedding

import (
	"github.com/hyperjump/kotae/internal/onnxrt"
)

// ONNXConfig describes a sentence-transformer model exported to ONNX.
type ONNXConfig struct {
	ModelPath  string
	Model      string
	Dimensions int
	MaxTokens  int
}

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct{ Embedder }

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ ONNXConfig) (*ONNXEmbedder, error) {
	return nil, onnxrt.ErrNoCGO
}
