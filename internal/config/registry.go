package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods for a provider
// name nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// Registry resolves the provider names in [ProvidersConfig] to constructors.
// Binaries register the backends they were built with; the registry itself
// knows none. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]Factory[stt.Provider]
	llm map[string]Factory[llm.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt: map[string]Factory[stt.Provider]{},
		llm: map[string]Factory[llm.Provider]{},
	}
}

// RegisterSTT binds name to f, replacing any earlier factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt[name] = f
	r.mu.Unlock()
}

// RegisterLLM binds name to f, replacing any earlier factory.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm[name] = f
	r.mu.Unlock()
}

// CreateSTT builds the speech-to-text provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f := r.stt[entry.Name]
	r.mu.RUnlock()
	return create("stt", f, entry)
}

// CreateLLM builds the language model provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f := r.llm[entry.Name]
	r.mu.RUnlock()
	return create("llm", f, entry)
}

func create[P any](kind string, f Factory[P], entry ProviderEntry) (P, error) {
	if f == nil {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		return p, fmt.Errorf("config: create %s provider %q: %w", kind, entry.Name, err)
	}
	return p, nil
}

// Names lists the registered names for kind ("stt" or "llm") in sorted
// order. Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	}
	return nil
}
