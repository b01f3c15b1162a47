package events

import "github.com/dshills/fedihook/internal/event/topic"

// Plugin event keys. These are emitted by the plugin manager, never by
// plugins themselves.
var (
	// PluginAfterActivate is emitted when a plugin becomes active.
	PluginAfterActivate = topic.NewAfter[PluginLifecycle]("plugin:afterActivate", "a plugin was activated")

	// PluginAfterUnload is emitted when a plugin has been torn down.
	PluginAfterUnload = topic.NewAfter[PluginLifecycle]("plugin:afterUnload", "a plugin was unloaded")
)

// PluginLifecycle is the payload of plugin lifecycle events.
type PluginLifecycle struct {
	// PluginID is the manifest id.
	PluginID string `json:"pluginId"`

	// Version is the manifest version.
	Version string `json:"version"`

	// State is the lifecycle state the plugin entered.
	State string `json:"state"`

	// Reason explains an unload, when known.
	Reason string `json:"reason,omitempty"`
}
