package loadgen

import "errors"

// Sentinel kinds for load run errors.
var (
	ErrInvalidConfig    = errors.New("invalid load configuration")
	ErrUnhealthy        = errors.New("service is not healthy")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	ErrVerification     = errors.New("verification failed")
)
