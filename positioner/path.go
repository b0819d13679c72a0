package positioner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xrmlab/go-scan/internal/pool"
)

// Path describes one continuous trajectory handed to the motion subsystem as a
// single outstanding operation. Discrete-point ordering rules do not apply;
// all axes travel concurrently along the path.
type Path struct {
	// Start holds the per-axis positions the trajectory begins from.
	Start []float64
	// Stop holds the per-axis positions the trajectory ends at.
	Stop []float64
	// Duration is the nominal traversal time of the whole path.
	Duration time.Duration
}

// Validate checks the path against the number of axes in the set.
func (p Path) validate(n int) error {
	if len(p.Start) != n || len(p.Stop) != n {
		return fmt.Errorf("%w: path start/stop for %d axes", ErrTargetCount, n)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: non-positive path duration", ErrInvalidSpec)
	}

	return nil
}

// MovePath moves all axes to the path start (blocking), then issues the
// trajectory as one outstanding operation and returns a wait function.
//
// The wait function blocks until every readback has settled on the path end
// or the path duration plus the move timeout elapses (ErrMoveTimeout).
func (s *Set) MovePath(ctx context.Context, path Path) (func(context.Context) error, error) {
	if err := path.validate(len(s.specs)); err != nil {
		return nil, err
	}

	if _, err := s.MoveTo(ctx, path.Start, true); err != nil {
		return nil, fmt.Errorf("move to path start: %w", err)
	}

	s.log.Info("issue trajectory", "axes", s.Labels(), "duration", path.Duration)
	for i, spec := range s.specs {
		if err := s.bus.Write(spec.DrivePV, path.Stop[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Label, err)
		}
	}

	wait := func(waitCtx context.Context) error {
		deadline := pool.GetTimer(path.Duration + s.moveTimeout)
		defer pool.PutTimer(deadline)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-waitCtx.Done():
				return waitCtx.Err()

			case <-deadline.C:
				return ErrMoveTimeout

			case <-ticker.C:
				settled := true
				for i, spec := range s.specs {
					val, err := s.bus.Read(spec.ReadbackPV)
					if err != nil || math.Abs(val-path.Stop[i]) > spec.tolerance() {
						settled = false
						break
					}
				}
				if settled {
					return nil
				}
			}
		}
	}

	return wait, nil
}
