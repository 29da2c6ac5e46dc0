package entities

import "errors"

var (
	// ErrNotFound means no record or no cascade strategy matched. Callers may fall
	// back to an external lookup.
	ErrNotFound = errors.New("not found")

	// ErrConflictRace means a staging or canonical row referenced by a transition
	// vanished before the transition could run.
	ErrConflictRace = errors.New("record vanished during transition")

	// ErrStorageFailure means a multi-step write was rolled back.
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidInput means the submitted fields failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
