// Package pv defines the narrow process-variable transport contract the scan
// engine depends on, together with an in-memory simulation bus.
//
// Hardware registers are addressed by name. The engine only ever reads and
// writes values through the Bus interface; the actual transport (Channel
// Access, PV Access, a gateway, or the simulation bus) is supplied by the
// caller at assembly time.
package pv

import "errors"

var (
	// ErrUnknownAddress indicates that no value is present for the requested address.
	ErrUnknownAddress = errors.New("unknown process-variable address")

	// ErrNotArray indicates that the address holds a scalar, not an array value.
	ErrNotArray = errors.New("address does not hold an array value")
)

// Bus is the read/write contract to the control system.
//
// Implementations must be safe for concurrent use; detectors are driven in
// parallel and may touch the bus from multiple goroutines.
type Bus interface {
	// Read returns the scalar value stored at addr.
	Read(addr string) (float64, error)
	// ReadArray returns the array value stored at addr.
	ReadArray(addr string) ([]float64, error)
	// Write stores a scalar value at addr.
	Write(addr string, value float64) error
}
