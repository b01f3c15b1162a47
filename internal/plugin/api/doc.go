// Package api provides the secure context handed to plugins.
//
// A plugin never sees the event bus, the permission manager or the store.
// Each plugin instance gets a SecureContext built by a Factory from its
// grant; every method on it runs the same three steps:
//
//  1. check the permission: it must be in the context's grant and still be
//     held according to the permission manager
//  2. record the check with the security auditor, allowed or not
//  3. delegate to the host on success, or return a *security.PermissionError
//
// Subscribing needs the permission the event catalogue assigns to the topic.
// Storage reads need storage:read, writes storage:write; logging needs
// log:write.
//
// # Leases
//
// Factory.Create returns a Lease next to the context. The lifecycle manager
// keeps the lease and closes it on unload: all of the plugin's subscriptions
// are removed from the bus and the context is invalidated, so later calls
// fail with reason "context closed".
//
// # Lua
//
// Install exposes a context to a Lua plugin as the "fedi" module:
//
//	local fedi = require("fedi")
//
//	fedi.on_before("note:beforeCreate", function(note)
//	    if note.content:find("buy now") then
//	        return { cancel = true, reason = "Spam detected" }
//	    end
//	end)
package api
