package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/sibyl/pkg/provider/synth"
)

// ErrProviderNotRegistered is returned by [Registry.CreateSynth] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	synth map[string]func(ProviderEntry) (synth.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		synth: make(map[string]func(ProviderEntry) (synth.Provider, error)),
	}
}

// RegisterSynth registers a synthesis provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSynth(name string, factory func(ProviderEntry) (synth.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synth[name] = factory
}

// CreateSynth instantiates a synthesis provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSynth(entry ProviderEntry) (synth.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synth[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synth/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// SynthNames returns the registered synthesis provider names, sorted.
// Used in error messages and --list-voices output.
func (r *Registry) SynthNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.synth))
	for name := range r.synth {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
