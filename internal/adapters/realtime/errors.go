package realtime

import "errors"

// Sentinel kinds for hub errors.
var (
	ErrStopped        = errors.New("hub stopped")
	ErrAlreadyRunning = errors.New("hub already running")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrNotConnected   = errors.New("client not connected")
	ErrMismatch       = errors.New("payload does not match connection")
)
