package security

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied matches every *PermissionError via errors.Is.
var ErrPermissionDenied = errors.New("permission denied")

// Reasons attached to permission errors.
const (
	ReasonNotGranted    = "not granted"
	ReasonUnknown       = "unknown permission"
	ReasonRevoked       = "revoked"
	ReasonContextClosed = "context closed"
	ReasonForeignHandle = "subscription belongs to another plugin"
)

// PermissionError reports a denied capability access or an invalid grant request.
type PermissionError struct {
	// PluginID is the plugin whose access was denied.
	PluginID string

	// Permission is the permission that was checked.
	Permission Permission

	// Reason explains the denial.
	Reason string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("plugin %q: permission %q: %s", e.PluginID, e.Permission, e.Reason)
}

// Is allows errors.Is to match PermissionError with ErrPermissionDenied.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// NewPermissionError creates a new permission error.
func NewPermissionError(pluginID string, perm Permission, reason string) *PermissionError {
	return &PermissionError{
		PluginID:   pluginID,
		Permission: perm,
		Reason:     reason,
	}
}

// IsPermissionError reports whether err is or wraps a *PermissionError.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
