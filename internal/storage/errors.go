package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrCycleDetected is returned when a decision status update would create a
// cycle in the supersession chain.
var ErrCycleDetected = errors.New("storage: supersession cycle detected")

// ErrSessionClosed is returned when a write targets a session in a terminal
// state (complete or abandoned).
var ErrSessionClosed = errors.New("storage: session is complete or abandoned")

// ErrInvalidTransition is returned when a session status update is not
// permitted by the lifecycle state machine.
var ErrInvalidTransition = errors.New("storage: invalid session status transition")
