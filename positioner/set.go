package positioner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xrmlab/go-scan/internal/pool"
	"github.com/xrmlab/go-scan/logger"
	"github.com/xrmlab/go-scan/pv"
)

const (
	defaultMoveTimeout  = 60 * time.Second
	defaultPollInterval = 5 * time.Millisecond
)

// Option customizes a Set.
type Option func(*Set)

// WithMoveTimeout sets the per-axis settle timeout. Defaults to 60 seconds.
func WithMoveTimeout(d time.Duration) Option {
	return func(s *Set) {
		if d > 0 {
			s.moveTimeout = d
		}
	}
}

// WithPollInterval sets the readback polling interval. Defaults to 5ms.
func WithPollInterval(d time.Duration) Option {
	return func(s *Set) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the logger for the Set. Defaults to the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Set) {
		if l != nil {
			s.log = l
		}
	}
}

// Set drives an ordered group of positioners.
//
// Axes are always moved in declared order; there is no implicit parallel
// motion in discrete-point scanning.
type Set struct {
	specs        []Spec
	bus          pv.Bus
	log          logger.Logger
	moveTimeout  time.Duration
	pollInterval time.Duration
}

// NewSet validates the given specs and creates a Set over the bus.
func NewSet(specs []Spec, bus pv.Bus, opts ...Option) (*Set, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no positioners", ErrInvalidSpec)
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	s := &Set{
		specs:        specs,
		bus:          bus,
		log:          logger.GetLogger(),
		moveTimeout:  defaultMoveTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Len returns the number of axes in the set.
func (s *Set) Len() int { return len(s.specs) }

// Labels returns the axis labels in declared order.
func (s *Set) Labels() []string {
	labels := make([]string, len(s.specs))
	for i, spec := range s.specs {
		labels[i] = spec.Label
	}

	return labels
}

// Specs returns the axis specs in declared order.
func (s *Set) Specs() []Spec { return s.specs }

// MoveTo moves every axis to its target, strictly in declared order.
//
// When wait is true each move blocks until the readback settles within
// tolerance or the move timeout elapses. When wait is false the drive
// commands are issued and the call returns the current readbacks immediately.
//
// The returned slice holds the realized readback for each axis.
func (s *Set) MoveTo(ctx context.Context, targets []float64, wait bool) ([]float64, error) {
	if len(targets) != len(s.specs) {
		return nil, fmt.Errorf("%w: got %d targets for %d axes", ErrTargetCount, len(targets), len(s.specs))
	}

	realized := make([]float64, len(s.specs))
	for i, spec := range s.specs {
		val, err := s.moveAxis(ctx, spec, targets[i], wait)
		if err != nil {
			return realized, fmt.Errorf("%s: %w", spec.Label, err)
		}
		realized[i] = val
	}

	return realized, nil
}

// Current reads the readback of every axis in declared order.
func (s *Set) Current(ctx context.Context) ([]float64, error) {
	out := make([]float64, len(s.specs))
	for i, spec := range s.specs {
		val, err := s.bus.Read(spec.ReadbackPV)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Label, err)
		}
		out[i] = val

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	return out, nil
}

// Restore re-issues drive commands for the given positions without waiting
// for settle. Used to return axes to their pre-scan positions.
func (s *Set) Restore(targets []float64) error {
	if len(targets) != len(s.specs) {
		return fmt.Errorf("%w: got %d targets for %d axes", ErrTargetCount, len(targets), len(s.specs))
	}
	for i, spec := range s.specs {
		if err := s.bus.Write(spec.DrivePV, targets[i]); err != nil {
			return fmt.Errorf("%s: %w", spec.Label, err)
		}
	}

	return nil
}

// moveAxis issues one drive command and optionally blocks until settle.
func (s *Set) moveAxis(ctx context.Context, spec Spec, target float64, wait bool) (float64, error) {
	s.log.Debug("move axis", "axis", spec.Label, "target", target, "wait", wait)

	if err := s.bus.Write(spec.DrivePV, target); err != nil {
		return math.NaN(), err
	}

	if !wait {
		val, err := s.bus.Read(spec.ReadbackPV)
		if err != nil {
			return target, nil //nolint: nilerr // readback not yet known, report the target
		}
		return val, nil
	}

	if spec.DonePV != "" {
		return s.waitDoneFlag(ctx, spec, target)
	}

	return s.waitReadback(ctx, spec, target)
}

// waitReadback polls the readback until it settles within tolerance.
func (s *Set) waitReadback(ctx context.Context, spec Spec, target float64) (float64, error) {
	deadline := pool.GetTimer(s.moveTimeout)
	defer pool.PutTimer(deadline)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := math.NaN()
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()

		case <-deadline.C:
			s.log.Warn("move timeout", "axis", spec.Label, "target", target, "readback", last)
			return last, ErrMoveTimeout

		case <-ticker.C:
			val, err := s.bus.Read(spec.ReadbackPV)
			if err != nil {
				continue
			}
			last = val
			if math.Abs(val-target) <= spec.tolerance() {
				return val, nil
			}
		}
	}
}

// waitDoneFlag waits for the control system's done-moving flag, then verifies
// the realized position against tolerance.
func (s *Set) waitDoneFlag(ctx context.Context, spec Spec, target float64) (float64, error) {
	deadline := pool.GetTimer(s.moveTimeout)
	defer pool.PutTimer(deadline)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return math.NaN(), ctx.Err()

		case <-deadline.C:
			return math.NaN(), ErrMoveTimeout

		case <-ticker.C:
			done, err := s.bus.Read(spec.DonePV)
			if err != nil || done == 0 {
				continue
			}

			val, err := s.bus.Read(spec.ReadbackPV)
			if err != nil {
				return math.NaN(), err
			}
			if math.Abs(val-target) > spec.tolerance() {
				s.log.Warn("readback mismatch", "axis", spec.Label, "target", target, "readback", val)
				return val, ErrReadbackMismatch
			}

			return val, nil
		}
	}
}
