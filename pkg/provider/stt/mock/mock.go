// Package mock provides a test double for the stt.Provider interface.
//
// Set Result and Err to control what Transcribe returns; inspect Calls to
// verify which clips and configs were passed.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello"}}
//	tr, _ := p.Transcribe(ctx, clip, stt.Config{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Clip is the recording passed to Transcribe.
	Clip *audio.Clip
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err. A cancelled context
// wins over both.
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, cfg stt.Config) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Cfg: cfg})
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
