package model

import "errors"

// Sentinel kinds for inbound payload errors.
var (
	ErrMalformed  = errors.New("malformed payload")
	ErrOutOfRange = errors.New("rating out of range")
)
