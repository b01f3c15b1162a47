// Package topic defines event names and the closed event catalogue.
//
// # Topic Format
//
// Topics pair a namespace with an action:
//
//	user:beforeRegister
//	note:afterCreate
//
// The action prefix fixes the dispatch kind. "before" topics are vetoable and
// dispatched sequentially; "after" topics are notifications dispatched
// concurrently. The association is part of the name, so no runtime state can
// change it.
//
// # Keys
//
// Host code declares events as typed keys:
//
//	var NoteBeforeCreate = topic.NewBefore[NoteDraft]("note:beforeCreate", "a note is about to be stored")
//
// A key carries a Descriptor whose Normalize function converts dynamic payloads
// (e.g. map[string]any returned by a scripting plugin) back to the schema type.
package topic
