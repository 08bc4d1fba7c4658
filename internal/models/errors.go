package models

import "errors"

// Expected outcomes of normal operation. Callers match them with errors.Is.
var (
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrInPast            = errors.New("start is in the past")
	ErrSlotTaken         = errors.New("slot already taken")
	ErrOutsideWindow     = errors.New("requested range is outside the availability window")
	ErrBlocked           = errors.New("interval has a booking attached")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBanned            = errors.New("user is banned")
	ErrOverlap           = errors.New("interval overlaps an existing one")
)

// ErrInvariant marks a detected consistency violation. It is never repaired
// silently.
var ErrInvariant = errors.New("invariant violation")
