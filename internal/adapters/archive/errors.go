package archive

import "errors"

// Sentinel kinds for archive errors.
var (
	ErrUnknownKind = errors.New("unknown archive record kind")
	ErrClosed      = errors.New("archive closed")
)
