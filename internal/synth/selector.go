package synth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// DegradedGeneration marks answers that fell back to the extractive strategy
// although a generator is configured.
const DegradedGeneration = "generation"

const (
	defaultCooldown = 30 * time.Second
	probePrompt     = `Reply with the JSON object {"answer": "ok"}.`
)

// Synthesizer picks one strategy per question: generative while the generator
// is available, extractive otherwise. A failed generative attempt is answered
// extractively and the generator is skipped for the cooldown.
type Synthesizer struct {
	analyzer   *Analyzer
	generative *Generative // nil when no generator is configured
	extractive *Extractive
	gen        llm.Generator
	avail      *llm.Availability
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = utils.OrNop(l) }
}

// New creates a Synthesizer. gen may be nil, which makes every answer extractive.
func New(gen llm.Generator, cfg config.LLMConfig, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		analyzer:   NewAnalyzer(),
		extractive: NewExtractive(),
		gen:        gen,
		timeout:    cfg.Timeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	s.avail = llm.NewAvailability(cooldown)
	if gen != nil {
		s.generative = NewGenerative(gen, GenerativeConfig{
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.TemperatureOrDefault(),
			Timeout:       cfg.Timeout,
			ContextBudget: cfg.ContextBudget,
		}, s.logger)
	}
	return s
}

// Analyze exposes the question analysis used for synthesis.
func (s *Synthesizer) Analyze(question string) models.StructuredQuery {
	return s.analyzer.Analyze(question)
}

// Synthesize answers question from passages ordered best first. It fails only
// when no passage has text (no_evidence) or when ctx ends.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, passages []models.Candidate) (*models.Answer, error) {
	if len(passages) == 0 {
		return nil, errs.E(errs.NoEvidence, "synth", "no passages to answer from")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := s.analyzer.Analyze(question)

	var degraded []string
	if s.generative != nil {
		if reason := s.avail.Ready(); reason != nil {
			s.logger.Debug("generator cooling down, answering extractively", zap.Error(reason))
			degraded = append(degraded, DegradedGeneration)
		} else {
			ans, err := s.generative.Produce(ctx, q, passages)
			if err == nil {
				s.record(nil)
				return ans, nil
			}
			if ctx.Err() != nil || errs.IsKind(err, errs.NoEvidence) {
				return nil, err
			}
			s.record(err)
			s.logger.Warn("generation failed, answering extractively",
				zap.String("backend", s.gen.Name()), zap.Error(err))
			degraded = append(degraded, DegradedGeneration)
		}
	}

	ans, err := s.extractive.Produce(ctx, q, passages)
	if err != nil {
		return nil, err
	}
	ans.Degraded = degraded
	return ans, nil
}

func (s *Synthesizer) record(err error) {
	if s.avail.Record(err) && err == nil {
		s.logger.Info("generator available again", zap.String("backend", s.gen.Name()))
	}
}

// Mode reports the strategy the next question would use.
func (s *Synthesizer) Mode() string {
	if s.generative == nil || s.avail.Ready() != nil {
		return StrategyExtractive
	}
	return StrategyGenerative
}

// Backend names the generator, or "none".
func (s *Synthesizer) Backend() string {
	if s.gen == nil {
		return "none"
	}
	return s.gen.Name()
}

// Probe sends a tiny prompt to the generator and records the outcome.
func (s *Synthesizer) Probe(ctx context.Context) error {
	if s.gen == nil {
		return nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	_, err := s.gen.Generate(ctx, llm.Request{Prompt: probePrompt, MaxTokens: 16, JSON: true})
	if err != nil {
		err = errs.Wrap(errs.GenerationUnavailable, "synth.probe", err, s.gen.Name()+" probe failed")
	}
	s.record(err)
	return err
}

// Health describes the synthesizer. The extractive path is always available,
// so the component is never reported unavailable.
func (s *Synthesizer) Health() models.ComponentHealth {
	h := models.ComponentHealth{Name: "synthesizer", Backend: s.Backend(), Available: true}
	switch {
	case s.gen == nil:
		h.Detail = "extractive only"
	case s.avail.LastError() != nil:
		h.Detail = "generator unavailable: " + s.avail.LastError().Error()
	default:
		h.Detail = "generative"
	}
	return h
}

// Close releases the generator.
func (s *Synthesizer) Close() error {
	if s.gen == nil {
		return nil
	}
	return s.gen.Close()
}
