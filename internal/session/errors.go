package session

import "errors"

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotFound is returned when a session id is unknown or expired.
	ErrNotFound = errors.New("session not found")

	// ErrLimit is returned when the manager already holds the maximum number
	// of sessions.
	ErrLimit = errors.New("session limit reached")
)
