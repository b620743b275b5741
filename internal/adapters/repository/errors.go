package repository

import "errors"

// ErrSessionNotFound is returned when a session id is not tracked.
var ErrSessionNotFound = errors.New("session not found")
