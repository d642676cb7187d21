package llms

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds the model pool keyed by role. The prime model serves
// user-facing turns, the lite model serves triage and internal phases,
// and the observer model serves in-stream checks.
type Registry struct {
	mu        sync.RWMutex
	providers map[ModelRole]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[ModelRole]Provider)}
}

// Register installs a provider for a role, replacing any previous one.
func (r *Registry) Register(role ModelRole, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[role] = p
}

// Get returns the provider for role.
func (r *Registry) Get(role ModelRole) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[role]
	if !ok {
		return nil, fmt.Errorf("no provider registered for role %q", role)
	}
	return p, nil
}

// GetOr returns the provider for role, falling back to the prime model.
func (r *Registry) GetOr(role ModelRole) (Provider, error) {
	if p, err := r.Get(role); err == nil {
		return p, nil
	}
	return r.Get(RolePrime)
}

// UnloadAll releases device memory for every provider that supports it.
// Used during GPU handoff.
func (r *Registry) UnloadAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for role, p := range r.providers {
		if ec, ok := p.(EngineControl); ok {
			if err := ec.Unload(ctx); err != nil {
				return fmt.Errorf("unload %s: %w", role, err)
			}
		}
	}
	return nil
}

// ReloadAll warms every provider that supports engine control.
func (r *Registry) ReloadAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for role, p := range r.providers {
		if ec, ok := p.(EngineControl); ok {
			if err := ec.Reload(ctx); err != nil {
				return fmt.Errorf("reload %s: %w", role, err)
			}
		}
	}
	return nil
}
