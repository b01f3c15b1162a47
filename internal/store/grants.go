package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/fedihook/internal/plugin/security"
)

const (
	grantPrefix = "grants/"
	auditPrefix = "audit/"

	// auditKeyTime sorts lexically in time order.
	auditKeyTime = "20060102T150405.000000000Z"
)

// GrantRecord is the persisted form of a grant.
type GrantRecord struct {
	PluginID    string                `json:"pluginId"`
	Permissions []security.Permission `json:"permissions"`
}

// Grants persists permission grants. It implements security.GrantStore.
type Grants struct {
	store Store
}

// NewGrants creates a grant store on top of s.
func NewGrants(s Store) *Grants {
	return &Grants{store: s}
}

// SaveGrant implements security.GrantStore.
func (g *Grants) SaveGrant(ctx context.Context, pluginID string, perms []security.Permission) error {
	raw, err := json.Marshal(GrantRecord{PluginID: pluginID, Permissions: perms})
	if err != nil {
		return fmt.Errorf("encode grant %q: %w", pluginID, err)
	}
	return g.store.Put(ctx, grantPrefix+pluginID, raw)
}

// DeleteGrant implements security.GrantStore.
func (g *Grants) DeleteGrant(ctx context.Context, pluginID string) error {
	return g.store.Delete(ctx, grantPrefix+pluginID)
}

// LoadGrant returns the persisted grant of one plugin.
func (g *Grants) LoadGrant(ctx context.Context, pluginID string) (GrantRecord, error) {
	raw, err := g.store.Get(ctx, grantPrefix+pluginID)
	if err != nil {
		return GrantRecord{}, err
	}
	var rec GrantRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return GrantRecord{}, fmt.Errorf("decode grant %q: %w", pluginID, err)
	}
	return rec, nil
}

// ListGrants returns every persisted grant, ordered by plugin id.
func (g *Grants) ListGrants(ctx context.Context) ([]GrantRecord, error) {
	keys, err := g.store.List(ctx, grantPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]GrantRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := g.LoadGrant(ctx, strings.TrimPrefix(k, grantPrefix))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AuditLog persists audit entries. It implements security.AuditSink.
type AuditLog struct {
	store Store
}

// NewAuditLog creates an audit sink on top of s.
func NewAuditLog(s Store) *AuditLog {
	return &AuditLog{store: s}
}

// WriteAudit implements security.AuditSink.
func (a *AuditLog) WriteAudit(ctx context.Context, entry security.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	key := auditPrefix + entry.Timestamp.UTC().Format(auditKeyTime) + "-" + entry.ID
	return a.store.Put(ctx, key, raw)
}

// Entries returns persisted entries in time order. A zero since returns all.
func (a *AuditLog) Entries(ctx context.Context, since time.Time) ([]security.AuditEntry, error) {
	keys, err := a.store.List(ctx, auditPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]security.AuditEntry, 0, len(keys))
	for _, k := range keys {
		raw, err := a.store.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry security.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry %q: %w", k, err)
		}
		if !since.IsZero() && entry.Timestamp.Before(since) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

var (
	_ security.GrantStore = (*Grants)(nil)
	_ security.AuditSink  = (*AuditLog)(nil)
)
