// Package positioner wraps one or more motion axes behind blocking
// move-and-settle operations.
//
// Each axis is described by a Spec naming its drive and readback addresses.
// The readback channel is authoritative for recorded positions; the drive
// setpoint is only ever written, never recorded.
package positioner

import "fmt"

// DefaultTolerance is the settle tolerance used when a Spec leaves Tolerance zero.
const DefaultTolerance = 1e-3

// Spec describes one motion axis.
type Spec struct {
	// Label identifies the axis in records and log output.
	Label string
	// DrivePV is the setpoint address written to start a move.
	DrivePV string
	// ReadbackPV is the address read to observe the realized position.
	// It must differ from DrivePV.
	ReadbackPV string
	// DonePV optionally names a done-moving flag the control system raises
	// (nonzero) when motion completes. Without it, settle is detected from the
	// readback alone.
	DonePV string
	// Tolerance is the maximum |readback-target| accepted as settled.
	// Zero selects DefaultTolerance.
	Tolerance float64
	// Units is a display hint recorded into data files.
	Units string
}

// Validate checks the spec invariants.
func (s Spec) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidSpec)
	}
	if s.DrivePV == "" || s.ReadbackPV == "" {
		return fmt.Errorf("%w: %s: drive and readback addresses are required", ErrInvalidSpec, s.Label)
	}
	if s.DrivePV == s.ReadbackPV {
		return fmt.Errorf("%w: %s: drive and readback must be distinct channels", ErrInvalidSpec, s.Label)
	}
	if s.Tolerance < 0 {
		return fmt.Errorf("%w: %s: negative tolerance", ErrInvalidSpec, s.Label)
	}

	return nil
}

func (s Spec) tolerance() float64 {
	if s.Tolerance == 0 {
		return DefaultTolerance
	}

	return s.Tolerance
}
