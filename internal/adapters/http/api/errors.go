package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrArchiveDisabled = errors.New("archive is disabled")
)
