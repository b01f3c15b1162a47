package app

import "errors"

// Application errors.
var (
	// ErrNotFound indicates a user or note does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken indicates a registration for an existing handle.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidInput indicates a request that fails basic validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed indicates the application has been shut down.
	ErrClosed = errors.New("application closed")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
