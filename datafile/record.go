// Package datafile accumulates per-point positioner readbacks and detector
// results into ordered output records with deterministic file naming.
package datafile

import (
	"errors"
	"time"
)

var (
	// ErrRecordClosed indicates that AppendPoint was called after Finalize.
	// This is a programming-contract violation and always fatal to the run.
	ErrRecordClosed = errors.New("record closed")

	// ErrPointOrder indicates a point index that is not the next in the
	// strictly increasing, gap-free 1-based sequence.
	ErrPointOrder = errors.New("point index out of order")
)

// Reading holds one detector's contribution to a scan point. A non-nil Err
// marks the reading as failed; its values are recorded as NaN.
type Reading struct {
	Detector string
	Values   []float64
	Err      error
}

// Point is one realized scan point. Immutable once recorded.
type Point struct {
	// Index is the 1-based sequence index within the record.
	Index int
	// Targets holds the commanded per-axis positions.
	Targets []float64
	// Readbacks holds the realized per-axis positions; the readback channel is
	// authoritative for recorded positions.
	Readbacks []float64
	// Readings holds one entry per detector in the ready-set.
	Readings []Reading
	// Time is the acquisition completion time.
	Time time.Time
}

// Failed reports whether any detector reading of the point failed.
func (p Point) Failed() bool {
	for _, r := range p.Readings {
		if r.Err != nil {
			return true
		}
	}

	return false
}

// Record is the realized, ordered output of a completed or aborted scan.
type Record struct {
	// Name is the output identity: base name plus zero-padded numeric suffix.
	Name   string
	Points []Point
}
