package extraction

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaydev/syncd/domain/pipeline"
)

// Extractor runs one extraction step for its provider. Implementations
// stage raw payloads, publish transform messages, checkpoint their
// progress and publish a continuation message when more work remains.
type Extractor interface {
	// Provider returns the provider identifier this extractor serves.
	Provider() string
	// Extract processes a single extraction message.
	Extract(ctx context.Context, msg *pipeline.ExtractionMessage) error
}

// Registry maps provider identifiers to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor, replacing any previous registration for the
// same provider.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Provider()] = e
}

// Get returns the extractor for a provider.
func (r *Registry) Get(provider string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[provider]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for provider %q", provider)
	}
	return e, nil
}

// Providers lists registered provider identifiers.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	return names
}
