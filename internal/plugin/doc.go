// Package plugin loads, runs and unloads fedihook plugins.
//
// # Plugin Structure
//
// A plugin is a directory below one of the search paths:
//
//	~/.config/fedihook/plugins/spam-filter/
//	├── plugin.json      # or plugin.toml
//	└── main.lua         # entry point
//
// # Manifest
//
//	{
//	  "id": "spam-filter",
//	  "version": "1.0.0",
//	  "main": "main.lua",
//	  "permissions": ["note:read", "note:write", "log:write"],
//	  "config": {"words": ["buy now"]}
//	}
//
// # Lifecycle
//
// Load moves a plugin through
//
//	discovered -> manifest_validated -> permissions_granted -> active
//
// A refused grant ends in rejected; a broken manifest or a failing activate
// ends in failed. Unload and Reload remove every subscription the plugin
// made before its secure context is closed, so no handler of an unloaded
// plugin runs again.
//
// # Lua API
//
// The entry file may define activate(fedi, config) and deactivate().
// Everything a script can touch goes through the fedi module:
//
//	function activate(fedi, config)
//	    fedi.on_before("note:beforeCreate", function(note)
//	        if note.content:find("buy now") then
//	            return {cancel = true, reason = "Spam detected"}
//	        end
//	    end)
//	end
//
// # Hot Reload
//
// A Watcher observes the search paths with fsnotify and reloads a plugin
// when files in its directory change.
package plugin
