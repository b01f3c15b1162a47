package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fedihook/internal/event/topic"
	"github.com/dshills/fedihook/internal/plugin/security"
)

func TestCatalogue_EveryTopicHasPermission(t *testing.T) {
	c := Catalogue()
	require.Equal(t, 8, c.Len())

	for _, d := range c.All() {
		perm, ok := RequiredPermission(d.Topic)
		require.True(t, ok, "topic %s has no required permission", d.Topic)
		assert.True(t, security.IsValidPermission(string(perm)))
	}
	assert.Len(t, required, c.Len())
}

func TestCatalogue_Kinds(t *testing.T) {
	tests := []struct {
		topic topic.Topic
		kind  topic.Kind
	}{
		{"user:beforeRegister", topic.KindBefore},
		{"user:afterRegister", topic.KindAfter},
		{"note:beforeCreate", topic.KindBefore},
		{"note:afterCreate", topic.KindAfter},
		{"note:beforeDelete", topic.KindBefore},
		{"note:afterDelete", topic.KindAfter},
		{"plugin:afterActivate", topic.KindAfter},
		{"plugin:afterUnload", topic.KindAfter},
	}

	for _, tt := range tests {
		t.Run(string(tt.topic), func(t *testing.T) {
			d, ok := Catalogue().Lookup(tt.topic)
			require.True(t, ok)
			assert.Equal(t, tt.kind, d.Kind)
		})
	}
}

func TestRequiredPermission_Unknown(t *testing.T) {
	_, ok := RequiredPermission("note:beforeEdit")
	assert.False(t, ok)
}

func TestNormalize_LuaShapedPayload(t *testing.T) {
	d, ok := Catalogue().Lookup(NoteBeforeCreate.Topic())
	require.True(t, ok)

	got, err := d.Normalize(map[string]any{"userId": "u1", "content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, NoteDraft{UserID: "u1", Content: "hi"}, got)

	_, err = d.Normalize(map[string]any{"userId": "u1", "body": "hi"})
	assert.ErrorIs(t, err, topic.ErrPayloadType)
}

func TestVisibility_IsValid(t *testing.T) {
	assert.True(t, VisibilityPublic.IsValid())
	assert.True(t, VisibilityDirect.IsValid())
	assert.False(t, Visibility("friends").IsValid())
}
