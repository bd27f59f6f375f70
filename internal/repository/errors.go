// Package repository defines the data access layer and the error values
// shared across repositories. These sentinel values allow higher layers
// such as the signing service and the handlers to distinguish between
// different failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a looked-up row does not exist. Entity
// specific errors wrap it so callers can match either.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update matched no row because
// the row's current state no longer allows it (for example a status
// transition that lost a race). Handlers translate this into HTTP 409
// unless a more specific domain error applies.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate key")
