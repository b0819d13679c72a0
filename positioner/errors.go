package positioner

import "errors"

var (
	// ErrMoveTimeout indicates that a positioner failed to settle within the move timeout.
	ErrMoveTimeout = errors.New("move timeout")

	// ErrReadbackMismatch indicates that motion was reported complete but the readback
	// lies outside the configured tolerance of the target.
	ErrReadbackMismatch = errors.New("readback outside tolerance after move complete")

	// ErrTargetCount indicates that the number of target values does not match the
	// number of positioners in the set.
	ErrTargetCount = errors.New("target count does not match positioner count")

	// ErrInvalidSpec indicates that a positioner spec failed validation.
	ErrInvalidSpec = errors.New("invalid positioner spec")
)
