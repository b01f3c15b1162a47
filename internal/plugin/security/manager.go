package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// GrantStore persists resolved grants. Implementations live with the host's
// storage collaborator.
type GrantStore interface {
	SaveGrant(ctx context.Context, pluginID string, perms []Permission) error
	DeleteGrant(ctx context.Context, pluginID string) error
}

// Manager tracks the grant held by each plugin.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	grants map[string]*Grant

	store  GrantStore
	logger zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithGrantStore persists grants through the given store.
func WithGrantStore(s GrantStore) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates an empty permission manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		grants: make(map[string]*Grant),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateAndGrant checks requested permissions against the registry and
// records the grant. Any unknown permission fails the whole request and
// removes whatever grant the plugin held before; there are no partial grants.
//
// A single invalid name yields a *PermissionError; several yield their join.
func (m *Manager) ValidateAndGrant(ctx context.Context, pluginID string, requested []string) (*Grant, error) {
	if pluginID == "" {
		return nil, errors.New("security: plugin id is required")
	}

	var invalid []error
	seen := make(map[Permission]bool, len(requested))
	perms := make([]Permission, 0, len(requested))
	for _, name := range requested {
		p := Permission(name)
		if !IsValidPermission(name) {
			invalid = append(invalid, NewPermissionError(pluginID, p, ReasonUnknown))
			continue
		}
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}

	if len(invalid) > 0 {
		m.Remove(ctx, pluginID)
		m.logger.Warn().
			Str("plugin_id", pluginID).
			Int("invalid", len(invalid)).
			Msg("grant rejected")
		if len(invalid) == 1 {
			return nil, invalid[0]
		}
		return nil, errors.Join(invalid...)
	}

	grant := NewGrant(pluginID, perms...)

	m.mu.Lock()
	m.grants[pluginID] = grant
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveGrant(ctx, pluginID, grant.Permissions()); err != nil {
			m.logger.Error().Err(err).Str("plugin_id", pluginID).Msg("persist grant failed")
		}
	}

	m.logger.Debug().
		Str("plugin_id", pluginID).
		Strs("permissions", permissionStrings(grant.Permissions())).
		Msg("grant recorded")

	return grant, nil
}

// HasPermission reports whether the plugin currently holds the permission.
func (m *Manager) HasPermission(pluginID string, p Permission) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[pluginID].Has(p)
}

// Check returns a *PermissionError if the plugin does not hold the permission.
func (m *Manager) Check(pluginID string, p Permission) error {
	if _, ok := registry[p]; !ok {
		return NewPermissionError(pluginID, p, ReasonUnknown)
	}
	if !m.HasPermission(pluginID, p) {
		return NewPermissionError(pluginID, p, ReasonNotGranted)
	}
	return nil
}

// Get returns the plugin's current grant.
func (m *Manager) Get(pluginID string) (*Grant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[pluginID]
	return g, ok
}

// Revoke narrows a plugin's grant. Secure contexts check the manager on every
// call, so revocation takes effect immediately.
func (m *Manager) Revoke(ctx context.Context, pluginID string, perms ...Permission) error {
	m.mu.Lock()
	g, ok := m.grants[pluginID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("security: no grant for plugin %q", pluginID)
	}
	next := g.without(perms...)
	m.grants[pluginID] = next
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveGrant(ctx, pluginID, next.Permissions()); err != nil {
			m.logger.Error().Err(err).Str("plugin_id", pluginID).Msg("persist revocation failed")
		}
	}
	m.logger.Info().
		Str("plugin_id", pluginID).
		Strs("revoked", permissionStrings(perms)).
		Msg("permissions revoked")
	return nil
}

// Remove destroys the plugin's grant. Removing an unknown plugin is a no-op.
func (m *Manager) Remove(ctx context.Context, pluginID string) {
	m.mu.Lock()
	_, existed := m.grants[pluginID]
	delete(m.grants, pluginID)
	m.mu.Unlock()

	if existed && m.store != nil {
		if err := m.store.DeleteGrant(ctx, pluginID); err != nil {
			m.logger.Error().Err(err).Str("plugin_id", pluginID).Msg("delete grant failed")
		}
	}
}

// List returns the ids of every plugin holding a grant, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.grants))
	for id := range m.grants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func permissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
