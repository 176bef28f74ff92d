package llm

import (
	"context"
	"sync"
)

// Fake is a scripted Generator for tests. It returns Text, fails with Err, or
// with Block set waits until the context ends.
type Fake struct {
	Text  string
	Err   error
	Block bool

	mu      sync.Mutex
	prompts []string
}

var _ Generator = (*Fake)(nil)

// Generate implements Generator.
func (f *Fake) Generate(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	text, err, block := f.Text, f.Err, f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Set replaces the scripted behaviour.
func (f *Fake) Set(text string, err error, block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Text, f.Err, f.Block = text, err, block
}

// Prompts returns the prompts received so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *Fake) Name() string { return "fake" }
func (f *Fake) Close() error { return nil }
