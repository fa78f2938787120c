package resilience

import (
	"sync"
)

// Registry provides named circuit breakers, one per source. It is safe for
// concurrent use and lazily creates breakers on first access.
//
// The registry is constructed explicitly and passed to whatever needs it
// rather than living as package-level state, so tests stay hermetic.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]Config
}

// NewRegistry creates a Registry. Sources named in configs get their own
// breaker parameters; any other source falls back to DefaultConfig.
func NewRegistry(configs map[string]Config) *Registry {
	merged := make(map[string]Config, len(configs))
	for k, v := range configs {
		merged[k] = v
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  merged,
	}
}

// Get returns the breaker for the given source name, creating it on first
// lookup. Breakers live for the registry's lifetime and are never removed.
func (r *Registry) Get(source string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[source]; ok {
		return b
	}

	cfg, ok := r.configs[source]
	if !ok {
		cfg = DefaultConfig
	}

	b := NewBreaker(cfg)
	r.breakers[source] = b
	return b
}

// Snapshot returns stats for every breaker created so far.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// ResetAll forces every created breaker closed. Intended for tests.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
