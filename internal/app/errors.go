package service

import "errors"

// Sentinel kinds for service errors. Repository ErrNotFound and ErrConflict
// pass through wrapped.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidItemTemplate = errors.New("invalid item template")
	ErrPackageNotFound     = errors.New("package not found")
)
