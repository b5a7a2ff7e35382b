package llm

import (
	"context"
	"sync"
)

// StaticProvider returns canned responses in order, then repeats the last
// one. Used by unit tests across the pipeline packages.
type StaticProvider struct {
	ProviderName string
	Local        bool
	Responses    []string
	// Err, when set, is returned on every call instead of a response.
	Err error

	mu    sync.Mutex
	calls int

	// Requests records every (system, user) prompt pair received.
	Requests []GenerateOptions
}

// NewStaticProvider creates a non-local provider answering with the given
// responses in order.
func NewStaticProvider(name string, responses ...string) *StaticProvider {
	return &StaticProvider{ProviderName: name, Responses: responses}
}

// Name implements Provider.
func (p *StaticProvider) Name() string { return p.ProviderName }

// IsLocal implements Provider.
func (p *StaticProvider) IsLocal() bool { return p.Local }

// Calls returns how many times the provider was invoked.
func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// GenerateResponse implements Provider.
func (p *StaticProvider) GenerateResponse(_ context.Context, _, _ string, opts GenerateOptions) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.Requests = append(p.Requests, opts)
	if p.Err != nil {
		return nil, p.Err
	}
	idx := p.calls - 1
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	content := `{"direction":"neutral","confidence":0.5,"reasoning":"no scripted response"}`
	if idx >= 0 {
		content = p.Responses[idx]
	}
	return &Response{
		Content:  content,
		Model:    opts.Model,
		Provider: p.ProviderName,
	}, nil
}
