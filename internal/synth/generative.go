package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// unparsedConfidence is assigned when the model did not return the JSON object.
const unparsedConfidence = 0.5

// GenerativeConfig controls model calls.
type GenerativeConfig struct {
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration // zero disables the deadline
	ContextBudget int           // characters of passage text
}

// Generative asks a language model for a JSON answer over the top passages.
type Generative struct {
	gen    llm.Generator
	cfg    GenerativeConfig
	logger *zap.Logger
}

// NewGenerative creates the strategy.
func NewGenerative(gen llm.Generator, cfg GenerativeConfig, logger *zap.Logger) *Generative {
	return &Generative{gen: gen, cfg: cfg, logger: utils.OrNop(logger)}
}

func (g *Generative) Name() string { return StrategyGenerative }

type generation struct {
	text string
	err  error
}

// Produce implements Strategy. Every backend failure, including a timeout or
// an empty completion, is a generation_unavailable error.
func (g *Generative) Produce(ctx context.Context, q models.StructuredQuery, passages []models.Candidate) (*models.Answer, error) {
	sent := fitBudget(usable(passages), g.cfg.ContextBudget)
	if len(sent) == 0 {
		return nil, errs.E(errs.NoEvidence, "synth.generative", "no passage has text")
	}
	requestID := uuid.NewString()
	req := llm.Request{
		Prompt:      buildPrompt(q, sent),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		JSON:        true,
	}
	g.logger.Debug("generating answer",
		zap.String("request_id", requestID),
		zap.String("backend", g.gen.Name()),
		zap.Int("passages", len(sent)),
		zap.Int("prompt_chars", len(req.Prompt)))

	start := time.Now()
	text, err := g.call(ctx, req)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.E(errs.GenerationUnavailable, "synth.generative", "%s returned an empty completion", g.gen.Name())
	}
	g.logger.Debug("completion received",
		zap.String("request_id", requestID),
		zap.Duration("took", time.Since(start)),
		zap.Int("chars", len(text)))

	return g.answer(q, sent, text, requestID), nil
}

func (g *Generative) call(ctx context.Context, req llm.Request) (string, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
	}
	defer cancel()

	done := make(chan generation, 1)
	go func() {
		text, err := g.gen.Generate(callCtx, req)
		done <- generation{text, err}
	}()

	var res generation
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if res.err == nil {
		return res.text, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("generate: %w", ctx.Err())
	}
	if errors.Is(res.err, context.DeadlineExceeded) {
		return "", errs.E(errs.GenerationUnavailable, "synth.generative", "%s did not respond within %s", g.gen.Name(), g.cfg.Timeout)
	}
	return "", errs.Wrap(errs.GenerationUnavailable, "synth.generative", res.err, g.gen.Name()+" failed")
}

func (g *Generative) answer(q models.StructuredQuery, sent []models.Candidate, text, requestID string) *models.Answer {
	ans := &models.Answer{
		Question: q.Original,
		Evidence: evidenceFrom(sent),
		Strategy: StrategyGenerative,
	}
	rationale := &models.Rationale{SupportingClauses: texts(sent)}
	ans.Rationale = rationale

	c, ok := parseCompletion(text)
	if !ok {
		g.logger.Debug("completion is not JSON, using it as answer text", zap.String("request_id", requestID))
		ans.Answer = text
		ans.Confidence = unparsedConfidence
		rationale.Confidence = unparsedConfidence
		rationale.Limitations = []string{"The model did not return a structured answer."}
		return ans
	}

	confidence := unparsedConfidence
	if c.Confidence != nil {
		confidence = utils.Clamp01(float64(*c.Confidence))
	}
	decision := normalizeDecision(c.Decision)
	ans.Answer = c.Answer
	ans.Decision = decision
	ans.Confidence = confidence
	rationale.Confidence = confidence
	rationale.Decision = decision
	rationale.Reasoning = strings.TrimSpace(c.Reasoning)
	rationale.SupportingClauses = appendUnique(rationale.SupportingClauses, c.SupportingEvidence)
	rationale.KeyFactors = c.KeyFactors
	rationale.ConflictingEvidence = c.ConflictingEvidence
	rationale.Limitations = c.Limitations
	return ans
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
