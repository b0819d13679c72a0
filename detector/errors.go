package detector

import "errors"

var (
	// ErrUnsupportedMode indicates that a detector does not declare the
	// capability required by the requested acquisition mode.
	ErrUnsupportedMode = errors.New("unsupported acquisition mode")

	// ErrInvalidState indicates that an operation was called in a lifecycle
	// state that does not permit it.
	ErrInvalidState = errors.New("invalid lifecycle state for operation")

	// ErrInvalidTransition is returned when an attempt is made to transition
	// the acquisition state to an invalid state.
	ErrInvalidTransition = errors.New("invalid acquisition state transition")

	// ErrArmTimeout indicates that a detector failed to reach the Armed state
	// within the arm timeout.
	ErrArmTimeout = errors.New("arm timeout")

	// ErrAcquisitionTimeout indicates that a detector failed to report
	// acquisition-complete within the acquisition timeout.
	ErrAcquisitionTimeout = errors.New("acquisition timeout")

	// ErrStopped indicates that an acquisition was stopped before it completed,
	// so no readings are available for the point.
	ErrStopped = errors.New("acquisition stopped before completion")

	// ErrNoArrayData indicates that SaveArrayData was called before a
	// continuous acquisition reached its terminal frame count or was stopped.
	ErrNoArrayData = errors.New("no array data captured")

	// ErrInvalidSpec indicates that a detector spec failed validation.
	ErrInvalidSpec = errors.New("invalid detector spec")
)
