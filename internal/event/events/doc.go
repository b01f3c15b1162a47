// Package events defines the closed catalogue of host events and their payloads.
//
// Each event has a typed key and a payload struct. Events are grouped by the
// host operation that emits them:
//
//   - User events: registration
//   - Note events: creation, deletion
//   - Plugin events: lifecycle notifications emitted by the plugin manager
//
// # Usage
//
// Host code emits through the typed keys so the payload type is checked at
// compile time:
//
//	res, err := event.EmitBefore(ctx, bus, events.NoteBeforeCreate, events.NoteDraft{
//	    UserID:  "u1",
//	    Content: "hello",
//	})
//	if err != nil {
//	    return err // a Before handler failed
//	}
//	if err := res.Err(); err != nil {
//	    return err // a plugin cancelled the operation
//	}
//	draft := res.Data
//
// # Topic Naming Convention
//
// Topics follow "<namespace>:<before|after><Action>":
//
//   - user:beforeRegister
//   - note:afterCreate
//
// The before/after prefix determines the dispatch kind. There are no
// wildcards; every subscription names exactly one catalogue entry.
//
// # Permissions
//
// Every topic maps to the permission a plugin needs to subscribe to it; see
// RequiredPermission.
package events
