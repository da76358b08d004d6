package feeder

import "errors"

var (
	// ErrDuplicateAction is returned when the same action was performed on
	// the same device moments ago.
	ErrDuplicateAction = errors.New("feeder: duplicate action suppressed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("feeder: service closed")
)
