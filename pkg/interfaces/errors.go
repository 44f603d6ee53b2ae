package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionTerminated = errors.New("session has already ended")
	ErrArchiveNotFound   = errors.New("session archive not found")
	ErrUnauthorized      = errors.New("unauthorized access")
)
