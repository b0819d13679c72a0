// Package scan orchestrates data-acquisition runs: it drives a positioner set
// through a point list (or a continuous path) and the detector ensemble's
// arm/start/stop lifecycle around each acquisition, with synchronization
// barriers across detectors.
package scan

import (
	"fmt"
	"time"

	"github.com/xrmlab/go-scan/detector"
	"github.com/xrmlab/go-scan/positioner"
)

// Run is the declarative description of one requested scan. It is constructed
// by the caller, consumed once by the sequencer, and never reused
// concurrently.
type Run struct {
	// ScanName is the base name output identities derive from.
	ScanName string
	// DataName optionally overrides the derived data file naming. When empty,
	// identities take the form "<ScanName>_<position>.NNN".
	DataName string

	// Positions holds the ordered per-point targets for discrete scanning,
	// one value per axis per point.
	Positions [][]float64
	// Path describes a continuous trajectory instead of discrete points.
	// When set, Positions is ignored.
	Path *positioner.Path

	// Mode is the acquisition mode shared by every detector in the run.
	Mode detector.Mode
	// Dwelltime is the acquisition duration per point or per frame.
	Dwelltime time.Duration
	// Frames is the frame budget for continuous mode.
	Frames int
	// Repeat runs the whole scan this many times, incrementing the data file
	// counter each time. Zero means once.
	Repeat int

	// Comments is a free-form block recorded into data file headers.
	Comments string
}

// Validate checks the run and normalizes defaulted fields.
func (r *Run) Validate(axes int) error {
	if r == nil {
		return ErrNilRun
	}
	if r.ScanName == "" && r.DataName == "" {
		return fmt.Errorf("%w: empty scan name", ErrNilRun)
	}
	if r.Path == nil && len(r.Positions) == 0 {
		return ErrNoPositions
	}
	for i, targets := range r.Positions {
		if len(targets) != axes {
			return fmt.Errorf("%w: point %d has %d targets for %d axes",
				positioner.ErrTargetCount, i+1, len(targets), axes)
		}
	}
	if r.Dwelltime <= 0 {
		return fmt.Errorf("%w: non-positive dwelltime", detector.ErrInvalidSpec)
	}
	if r.Repeat <= 0 {
		r.Repeat = 1
	}
	if r.Mode == detector.ContinuousMode && r.Frames <= 0 {
		return fmt.Errorf("%w: continuous mode needs a positive frame budget", detector.ErrInvalidSpec)
	}

	return nil
}

// namingPosition is the target value rendered into derived data file names:
// the first axis target of the first point, or the path start for continuous
// runs.
func (r *Run) namingPosition() float64 {
	if r.Path != nil {
		if len(r.Path.Start) > 0 {
			return r.Path.Start[0]
		}
		return 0
	}

	return r.Positions[0][0]
}
