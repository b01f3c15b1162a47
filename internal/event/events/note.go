package events

import (
	"time"

	"github.com/dshills/fedihook/internal/event/topic"
)

// Note event keys.
var (
	// NoteBeforeCreate is emitted before a note is stored.
	NoteBeforeCreate = topic.NewBefore[NoteDraft]("note:beforeCreate", "a note is about to be stored")

	// NoteAfterCreate is emitted once a note is stored.
	NoteAfterCreate = topic.NewAfter[Note]("note:afterCreate", "a note was stored")

	// NoteBeforeDelete is emitted before a note is removed.
	NoteBeforeDelete = topic.NewBefore[NoteDeletion]("note:beforeDelete", "a note is about to be deleted")

	// NoteAfterDelete is emitted once a note is removed.
	NoteAfterDelete = topic.NewAfter[NoteDeletion]("note:afterDelete", "a note was deleted")
)

// Visibility controls who can see a note.
type Visibility string

// Note visibilities.
const (
	VisibilityPublic    Visibility = "public"
	VisibilityUnlisted  Visibility = "unlisted"
	VisibilityFollowers Visibility = "followers"
	VisibilityDirect    Visibility = "direct"
)

// IsValid reports whether v is a known visibility.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityFollowers, VisibilityDirect:
		return true
	}
	return false
}

// NoteDraft is the payload of note:beforeCreate.
type NoteDraft struct {
	// UserID is the author.
	UserID string `json:"userId"`

	// Content is the note text. Before handlers commonly rewrite it.
	Content string `json:"content"`

	// Visibility defaults to public when empty.
	Visibility Visibility `json:"visibility,omitempty"`

	// ReplyTo is the id of the note being answered, if any.
	ReplyTo string `json:"replyTo,omitempty"`
}

// Note is the payload of note:afterCreate.
type Note struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	ReplyTo    string     `json:"replyTo,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NoteDeletion is the payload of note:beforeDelete and note:afterDelete.
type NoteDeletion struct {
	// NoteID is the note being removed.
	NoteID string `json:"noteId"`

	// UserID is the note's author.
	UserID string `json:"userId"`

	// ActorID is who asked for the deletion; it differs from UserID for
	// moderator removals.
	ActorID string `json:"actorId"`
}
