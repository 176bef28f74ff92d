//go:build cgo
// +build cgo

package rerank

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/onnxrt"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ONNXScorer runs a BERT-style cross-encoder (e.g. ms-marco-MiniLM) on
// [CLS] query [SEP] passage [SEP] and maps the single relevance logit through
// a sigmoid. It requires CGO and the onnxruntime shared library.
type ONNXScorer struct {
	model     string
	maxTokens int
	tokenizer embedding.Tokenizer

	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	logits        *ort.Tensor[float32]
}

var _ Scorer = (*ONNXScorer)(nil)

// NewONNXScorer loads the cross-encoder at modelPath.
func NewONNXScorer(modelPath, model string, maxTokens int) (*ONNXScorer, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx reranker: model_path is not set")
	}
	if err := onnxrt.Init(); err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	s := &ONNXScorer{model: model, maxTokens: maxTokens, tokenizer: &embedding.HashTokenizer{}}

	if err := s.allocate(); err != nil {
		_ = s.Close()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{s.inputIDs, s.attentionMask, s.tokenTypeIDs},
		[]ort.ArbitraryTensor{s.logits},
		nil,
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.session = session
	return s, nil
}

func (s *ONNXScorer) allocate() error {
	seq := ort.NewShape(1, int64(s.maxTokens))
	var err error
	if s.inputIDs, err = ort.NewEmptyTensor[int64](seq); err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if s.attentionMask, err = ort.NewEmptyTensor[int64](seq); err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if s.tokenTypeIDs, err = ort.NewEmptyTensor[int64](seq); err != nil {
		return fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if s.logits, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("failed to create logits tensor: %w", err)
	}
	return nil
}

func (s *ONNXScorer) Name() string { return "onnx:" + s.model }

// Score runs one inference per passage. Calls are serialized on the shared tensors.
func (s *ONNXScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, fmt.Errorf("onnx reranker is closed")
	}

	out := make([]float64, len(passages))
	for i, p := range passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := s.tokenizer.TokenizePair(query, p, s.maxTokens)
		copy(s.inputIDs.GetData(), ids)
		copy(s.attentionMask.GetData(), mask)
		copy(s.tokenTypeIDs.GetData(), types)
		if err := s.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		out[i] = utils.Sigmoid(float64(s.logits.GetData()[0]))
	}
	return out, nil
}

// Close destroys the session and tensors.
func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{s.inputIDs, s.attentionMask, s.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if s.logits != nil {
		_ = s.logits.Destroy()
	}
	s.inputIDs, s.attentionMask, s.tokenTypeIDs, s.logits = nil, nil, nil, nil
	return err
}
