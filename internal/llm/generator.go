// Package llm provides text generation backends for answer synthesis.
package llm

import "context"

// Request is a single-prompt completion request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks a backend that supports it to return a JSON object.
	JSON bool
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the backend and model, e.g. "openai:gpt-4o-mini".
	Name() string
	Close() error
}
