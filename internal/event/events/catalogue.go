package events

import (
	"github.com/dshills/fedihook/internal/event/topic"
	"github.com/dshills/fedihook/internal/plugin/security"
)

// required maps each topic to the permission a plugin needs to subscribe.
var required = map[topic.Topic]security.Permission{
	UserBeforeRegister.Topic():  security.PermUserWrite,
	UserAfterRegister.Topic():   security.PermUserRead,
	NoteBeforeCreate.Topic():    security.PermNoteWrite,
	NoteAfterCreate.Topic():     security.PermNoteRead,
	NoteBeforeDelete.Topic():    security.PermNoteModerate,
	NoteAfterDelete.Topic():     security.PermNoteRead,
	PluginAfterActivate.Topic(): security.PermPluginRead,
	PluginAfterUnload.Topic():   security.PermPluginRead,
}

var catalogue = topic.MustCatalogue(
	UserBeforeRegister.Descriptor(),
	UserAfterRegister.Descriptor(),
	NoteBeforeCreate.Descriptor(),
	NoteAfterCreate.Descriptor(),
	NoteBeforeDelete.Descriptor(),
	NoteAfterDelete.Descriptor(),
	PluginAfterActivate.Descriptor(),
	PluginAfterUnload.Descriptor(),
)

// Catalogue returns the host event catalogue.
func Catalogue() *topic.Catalogue {
	return catalogue
}

// RequiredPermission returns the permission needed to subscribe to t.
func RequiredPermission(t topic.Topic) (security.Permission, bool) {
	p, ok := required[t]
	return p, ok
}
