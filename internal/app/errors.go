package service

import "errors"

// Sentinel kinds for service lifecycle errors.
var (
	ErrStart      = errors.New("service start failed")
	ErrStopped    = errors.New("service stopped")
	ErrNotStarted = errors.New("service not started")
	ErrListen     = errors.New("listen failed")
	ErrServe      = errors.New("http serve failed")
)
