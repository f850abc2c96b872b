package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider and audio backend names to their constructor
// functions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	provider map[string]func(ProviderEntry) (live.Provider, error)
	input    map[string]func(InputConfig) (audio.InputDevice, error)
	output   map[string]func(OutputConfig) (audio.OutputDevice, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		provider: make(map[string]func(ProviderEntry) (live.Provider, error)),
		input:    make(map[string]func(InputConfig) (audio.InputDevice, error)),
		output:   make(map[string]func(OutputConfig) (audio.OutputDevice, error)),
	}
}

// RegisterProvider registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterProvider(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider[name] = factory
}

// RegisterInput registers a capture backend factory under name.
func (r *Registry) RegisterInput(name string, factory func(InputConfig) (audio.InputDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[name] = factory
}

// RegisterOutput registers a playback backend factory under name. The
// factory opens the device; it is called once per run.
func (r *Registry) RegisterOutput(name string, factory func(OutputConfig) (audio.OutputDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateProvider instantiates the live provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateProvider(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.provider[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: provider/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateInput instantiates the capture backend registered under cfg.Backend.
func (r *Registry) CreateInput(cfg InputConfig) (audio.InputDevice, error) {
	r.mu.RLock()
	factory, ok := r.input[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateOutput opens the playback backend registered under cfg.Backend.
func (r *Registry) CreateOutput(cfg OutputConfig) (audio.OutputDevice, error) {
	r.mu.RLock()
	factory, ok := r.output[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.provider))
}
