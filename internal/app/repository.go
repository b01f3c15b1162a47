package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/fedihook/internal/event/events"
)

// UserRepository persists accounts. The social service provides the real
// implementation.
type UserRepository interface {
	CreateUser(ctx context.Context, reg events.Registration) (events.User, error)
	GetUser(ctx context.Context, id string) (events.User, error)
}

// NoteRepository persists notes.
type NoteRepository interface {
	CreateNote(ctx context.Context, draft events.NoteDraft) (events.Note, error)
	GetNote(ctx context.Context, id string) (events.Note, error)
	DeleteNote(ctx context.Context, id string) error
}

// MemoryUsers is an in-memory UserRepository.
type MemoryUsers struct {
	mu         sync.RWMutex
	byID       map[string]events.User
	byUsername map[string]string
	now        func() time.Time
}

// NewMemoryUsers creates an empty user repository.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		byID:       make(map[string]events.User),
		byUsername: make(map[string]string),
		now:        time.Now,
	}
}

// CreateUser implements UserRepository.
func (r *MemoryUsers) CreateUser(_ context.Context, reg events.Registration) (events.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[reg.Username]; taken {
		return events.User{}, fmt.Errorf("%w: %s", ErrUsernameTaken, reg.Username)
	}
	u := events.User{
		ID:        uuid.NewString(),
		Username:  reg.Username,
		Email:     reg.Email,
		CreatedAt: r.now().UTC(),
	}
	r.byID[u.ID] = u
	r.byUsername[u.Username] = u.ID
	return u, nil
}

// GetUser implements UserRepository.
func (r *MemoryUsers) GetUser(_ context.Context, id string) (events.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return events.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

// Len returns the number of stored users.
func (r *MemoryUsers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// MemoryNotes is an in-memory NoteRepository.
type MemoryNotes struct {
	mu    sync.RWMutex
	notes map[string]events.Note
	now   func() time.Time
}

// NewMemoryNotes creates an empty note repository.
func NewMemoryNotes() *MemoryNotes {
	return &MemoryNotes{
		notes: make(map[string]events.Note),
		now:   time.Now,
	}
}

// CreateNote implements NoteRepository.
func (r *MemoryNotes) CreateNote(_ context.Context, draft events.NoteDraft) (events.Note, error) {
	n := events.Note{
		ID:         uuid.NewString(),
		UserID:     draft.UserID,
		Content:    draft.Content,
		Visibility: draft.Visibility,
		ReplyTo:    draft.ReplyTo,
		CreatedAt:  r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[n.ID] = n
	return n, nil
}

// GetNote implements NoteRepository.
func (r *MemoryNotes) GetNote(_ context.Context, id string) (events.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notes[id]
	if !ok {
		return events.Note{}, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return n, nil
}

// DeleteNote implements NoteRepository.
func (r *MemoryNotes) DeleteNote(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notes[id]; !ok {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	delete(r.notes, id)
	return nil
}

// List returns all notes, oldest first.
func (r *MemoryNotes) List() []events.Note {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]events.Note, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var (
	_ UserRepository = (*MemoryUsers)(nil)
	_ NoteRepository = (*MemoryNotes)(nil)
)
