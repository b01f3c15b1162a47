package event

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fedihook/internal/event/events"
)

func TestTyped_OnAndEmit(t *testing.T) {
	bus := newTestBus()
	var got events.User
	_, err := On(bus, events.UserAfterRegister, func(_ context.Context, u events.User) error {
		got = u
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Emit(context.Background(), bus, events.UserAfterRegister, events.User{ID: "u1", Username: "ada"}))
	assert.Equal(t, "ada", got.Username)
}

func TestTyped_BeforeChain(t *testing.T) {
	bus := newTestBus()
	_, err := OnBefore(bus, events.UserBeforeRegister, func(_ context.Context, r events.Registration) (Decision, error) {
		r.Username = strings.ToLower(r.Username)
		return Modify(r), nil
	})
	require.NoError(t, err)
	_, err = OnBefore(bus, events.UserBeforeRegister, func(_ context.Context, r events.Registration) (Decision, error) {
		if r.Username == "admin" {
			return Cancel("reserved username"), nil
		}
		return Continue(), nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	res, err := EmitBefore(ctx, bus, events.UserBeforeRegister, events.Registration{Username: "Ada"})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "ada", res.Data.Username)

	res, err = EmitBefore(ctx, bus, events.UserBeforeRegister, events.Registration{Username: "ADMIN"})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.EqualError(t, res.Err(), "reserved username")
}

func TestTyped_WrongKindKey(t *testing.T) {
	bus := newTestBus()
	err := Emit(context.Background(), bus, events.NoteBeforeCreate, events.NoteDraft{})
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = On[events.Note](bus, events.NoteAfterCreate, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
