// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or a guarded
// update whose precondition no longer holds.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input. Messages wrapping it are safe
// to return to clients.
var ErrValidation = errors.New("validation failed")

// ErrUnavailable indicates a backing store could not be reached. Callers may
// retry operations that fail with it.
var ErrUnavailable = errors.New("store unavailable")

// ErrAlreadyTerminal indicates the task already reached a terminal state.
var ErrAlreadyTerminal = errors.New("task already in a terminal state")

// ErrBusy indicates the task is already claimed by another worker.
var ErrBusy = errors.New("task already claimed")
