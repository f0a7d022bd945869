package analyzer

import (
	"sync"

	"github.com/rs/zerolog/log"

	"docsense/internal/config"
)

// Registry is a central registry of the configured analyzer backends
type Registry struct {
	analyzers map[string]Analyzer
	verifiers []string
	mu        sync.RWMutex
}

// NewRegistry creates a registry from configured backends.
func NewRegistry(configs []config.AnalyzerConfig) *Registry {
	registry := &Registry{
		analyzers: make(map[string]Analyzer),
	}

	for _, cfg := range configs {
		registry.Register(NewClient(cfg))
		if cfg.Verifier {
			registry.verifiers = append(registry.verifiers, cfg.ID)
		}
	}

	return registry
}

// Register adds an analyzer to the registry
func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.analyzers[a.ID()] = a

	log.Info().
		Str("analyzer", a.ID()).
		Msg("Registered analyzer backend")
}

// Get retrieves an analyzer by id
func (r *Registry) Get(id string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.analyzers[id]
	return a, exists
}

// All returns every registered analyzer.
func (r *Registry) All() []Analyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Analyzer, 0, len(r.analyzers))
	for _, a := range r.analyzers {
		all = append(all, a)
	}
	return all
}

// Verifier returns an analyzer eligible for the verification pass, preferring
// explicitly configured verifiers. ok is false when none is registered.
func (r *Registry) Verifier() (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.verifiers {
		if a, ok := r.analyzers[id]; ok {
			return a, true
		}
	}
	for _, a := range r.analyzers {
		return a, true
	}
	return nil, false
}
