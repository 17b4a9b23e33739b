// Package mock is an in-memory llm.Provider. Tests use it to script answers
// and inspect requests; talkbackd offers it as the "mock" LLM so a client can
// be wired up without API keys.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello!"}}
//	p := &mock.Provider{Echo: true} // answers "You said: <transcript>"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// EchoPrefix starts every answer of an echoing Provider.
const EchoPrefix = "You said: "

// Provider answers with CompleteResponse, or echoes the last message when
// Echo is set. Fields must be set before the first call.
type Provider struct {
	// CompleteResponse is copied into each answer. Nil yields an empty one.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr fails every call when set.
	CompleteErr error

	// Echo answers with EchoPrefix and the content of the last message.
	Echo bool

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	mu   sync.Mutex
	reqs []llm.CompletionRequest
}

// Complete records req and returns the scripted answer. A cancelled ctx
// fails the call.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}

	var resp llm.CompletionResponse
	if p.CompleteResponse != nil {
		resp = *p.CompleteResponse
	}
	if p.Echo && len(req.Messages) > 0 {
		resp.Content = EchoPrefix + req.Messages[len(req.Messages)-1].Content
		resp.FinishReason = "stop"
	}
	return &resp, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.ModelCapabilities
}

// CallCount reports how many requests Complete has seen.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

// LastRequest returns the newest request, or the zero value before any call.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reqs) == 0 {
		return llm.CompletionRequest{}
	}
	return p.reqs[len(p.reqs)-1]
}
