// Package security provides the permission model for plugins.
//
// # Registry
//
// The registry is a static catalogue of permission names, each with a
// description and a risk tier. It is never mutated at runtime:
//
//   - user:read, user:write: registration events
//   - note:read, note:write, note:moderate: note events
//   - plugin:read: plugin lifecycle events
//   - storage:read, storage:write: plugin-private key/value storage
//   - log:write: host log
//
// # Grants
//
// The Manager validates a manifest's requested permissions against the
// registry and records the resulting Grant. Validation fails closed: one
// unknown name rejects the whole request.
//
//	mgr := security.NewManager()
//	grant, err := mgr.ValidateAndGrant(ctx, "spam-filter", []string{"note:write", "log:write"})
//	if err != nil {
//	    // reject the plugin
//	}
//	mgr.HasPermission("spam-filter", security.PermNoteWrite) // true
//
// # Auditing
//
// The Auditor is an append-only log of permission checks. Every privileged
// call made through a plugin's secure context produces exactly one entry.
package security
