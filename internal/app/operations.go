package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/events"
	"github.com/dshills/fedihook/internal/event/topic"
)

// RegisterUser creates an account.
//
// user:beforeRegister runs first; a cancel fails the registration with the
// handler's reason as a *event.CancelledError and a handler failure is
// returned as is. Otherwise the possibly rewritten registration is stored and
// user:afterRegister is emitted.
func (app *Application) RegisterUser(ctx context.Context, reg events.Registration) (events.User, error) {
	if strings.TrimSpace(reg.Username) == "" {
		return events.User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	res, err := event.EmitBefore(ctx, app.bus, events.UserBeforeRegister, reg)
	if err != nil {
		return events.User{}, err
	}
	if err := res.Err(); err != nil {
		app.logger.Info().Str("username", reg.Username).Str("reason", res.Reason).Msg("registration cancelled")
		return events.User{}, err
	}

	user, err := app.users.CreateUser(ctx, res.Data)
	if err != nil {
		return events.User{}, err
	}
	emit(ctx, app, events.UserAfterRegister, user)
	return user, nil
}

// CreateNote stores a note after note:beforeCreate and emits
// note:afterCreate. A failing handler is returned as a *event.HandlerError
// reading "handler error for plugin <id> on topic note:beforeCreate: <message>".
func (app *Application) CreateNote(ctx context.Context, draft events.NoteDraft) (events.Note, error) {
	if draft.UserID == "" {
		return events.Note{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if draft.Visibility == "" {
		draft.Visibility = events.VisibilityPublic
	}

	res, err := event.EmitBefore(ctx, app.bus, events.NoteBeforeCreate, draft)
	if err != nil {
		return events.Note{}, err
	}
	if err := res.Err(); err != nil {
		app.logger.Info().Str("user_id", draft.UserID).Str("reason", res.Reason).Msg("note cancelled")
		return events.Note{}, err
	}

	final := res.Data
	if !final.Visibility.IsValid() {
		return events.Note{}, fmt.Errorf("%w: visibility %q", ErrInvalidInput, final.Visibility)
	}

	note, err := app.notes.CreateNote(ctx, final)
	if err != nil {
		return events.Note{}, err
	}
	emit(ctx, app, events.NoteAfterCreate, note)
	return note, nil
}

// DeleteNote removes a note on behalf of actorID after note:beforeDelete and
// emits note:afterDelete.
func (app *Application) DeleteNote(ctx context.Context, noteID, actorID string) error {
	note, err := app.notes.GetNote(ctx, noteID)
	if err != nil {
		return err
	}

	deletion := events.NoteDeletion{NoteID: note.ID, UserID: note.UserID, ActorID: actorID}
	res, err := event.EmitBefore(ctx, app.bus, events.NoteBeforeDelete, deletion)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		app.logger.Info().Str("note_id", noteID).Str("reason", res.Reason).Msg("deletion cancelled")
		return err
	}

	// The note id is fixed; handlers may only veto.
	if err := app.notes.DeleteNote(ctx, note.ID); err != nil {
		return err
	}
	emit(ctx, app, events.NoteAfterDelete, deletion)
	return nil
}

// emit dispatches an After event. After handler failures never fail the
// operation; only a catalogue mismatch is logged here.
func emit[T any](ctx context.Context, app *Application, k topic.Key[T], data T) {
	if err := event.Emit(ctx, app.bus, k, data); err != nil {
		app.logger.Error().Err(err).Str("topic", string(k.Topic())).Msg("emit failed")
	}
}
