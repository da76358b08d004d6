package cache

import "errors"

var (
	// ErrTypeMismatch is returned by Fetch when a cached value is not of
	// the requested type.
	ErrTypeMismatch = errors.New("cache: cached value has unexpected type")

	// ErrClosed is returned when a background refresh is started after Close.
	ErrClosed = errors.New("cache: closed")
)
