// Package membership hosts the pluggable providers that own externally-managed
// membership records. Providers are registered under a plugin ID at process
// start; tokens carry that ID so later requests dispatch to the same provider.
package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
)

// Provider verifies and persists memberships for one external system.
type Provider interface {
	// Verify checks that the submitted identity hints belong to the member
	// described by the snapshot.
	Verify(ctx context.Context, snapshot map[string]any, hints auth.MembershipHints) (bool, error)
	// Save binds the membership snapshot to a newly registered user.
	Save(ctx context.Context, userID int64, snapshot map[string]any) error
}

// Registry maps plugin IDs to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a provider to a plugin ID. Later registrations replace
// earlier ones.
func (r *Registry) Register(pluginID string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[pluginID] = provider
}

// PluginIDs lists the registered plugin IDs, sorted.
func (r *Registry) PluginIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Verify dispatches to the provider registered under pluginID.
func (r *Registry) Verify(ctx context.Context, pluginID string, snapshot map[string]any, hints auth.MembershipHints) (bool, error) {
	provider, err := r.lookup(pluginID)
	if err != nil {
		return false, err
	}
	return provider.Verify(ctx, snapshot, hints)
}

// Save dispatches to the provider registered under pluginID.
func (r *Registry) Save(ctx context.Context, pluginID string, userID int64, snapshot map[string]any) error {
	provider, err := r.lookup(pluginID)
	if err != nil {
		return err
	}
	return provider.Save(ctx, userID, snapshot)
}

func (r *Registry) lookup(pluginID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[pluginID]
	if !ok {
		return nil, fmt.Errorf("membership: no provider registered for plugin %q", pluginID)
	}
	return provider, nil
}

var _ auth.MembershipProviders = (*Registry)(nil)
