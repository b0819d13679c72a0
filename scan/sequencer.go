package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrmlab/go-scan/datafile"
	"github.com/xrmlab/go-scan/detector"
	"github.com/xrmlab/go-scan/internal/pool"
	"github.com/xrmlab/go-scan/positioner"
)

// Result summarizes a completed or aborted run.
type Result struct {
	// Records holds one realized record per repeat, in execution order. An
	// aborted run's last record is partial but well formed.
	Records []datafile.Record
	// Files lists every file the run wrote: data files plus any per-detector
	// array dumps from continuous acquisitions.
	Files []string
	// Points is the total number of realized points across all repeats.
	Points int
	// Aborted reports whether the run terminated early on an external abort.
	Aborted bool
	// Started is the wall-clock start of the run.
	Started time.Time
	// Elapsed is the total run duration including position restore.
	Elapsed time.Duration
}

// Sequencer owns the run loop: it drives the positioner set through the
// requested points and the detector ensemble's arm/start/stop lifecycle around
// each acquisition.
//
// Arming and starting fan out in parallel across the ensemble, with exactly
// two synchronization barriers per point: every detector is armed before any
// is started, and every detector has completed or timed out before the point
// is recorded.
type Sequencer struct {
	positioners *positioner.Set
	modes       *ModeController
	namer       *datafile.Namer
	cfg         *Config

	running atomic.Bool
}

// NewSequencer creates a sequencer over the positioner set and detector
// ensemble.
func NewSequencer(set *positioner.Set, modes *ModeController, opts ...Option) (*Sequencer, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("%w: nil positioner set", ErrNilRun)
	}
	if modes == nil || len(modes.Detectors()) == 0 {
		return nil, ErrNoDetectors
	}

	return &Sequencer{
		positioners: set,
		modes:       modes,
		namer:       datafile.NewNamer(),
		cfg:         cfg,
	}, nil
}

// Run executes one scan run to completion.
//
// A run is fail-fast before motion: validation, ensemble capability and mode
// configuration all happen before the first axis moves. Cancelling ctx aborts
// the run: in-flight detectors are stopped, the partial record is finalized,
// the original positions are restored, and ErrRunAborted is returned together
// with the partial result.
//
// Only one run may be in flight per sequencer (ErrRunInProgress).
func (s *Sequencer) Run(ctx context.Context, run *Run) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if err := run.Validate(s.positioners.Len()); err != nil {
		return nil, err
	}
	if err := s.modes.Prepare(run.Mode, run.Dwelltime, run.Frames); err != nil {
		return nil, err
	}

	origin, err := s.positioners.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("read original positions: %w", err)
	}

	result := &Result{Started: time.Now()}
	defer func() {
		result.Elapsed = time.Since(result.Started)
	}()

	s.cfg.logger.Info("run started",
		"scan", run.ScanName, "mode", run.Mode,
		"points", len(run.Positions), "repeats", run.Repeat,
		"detectors", len(s.modes.Detectors()))

	for rep := 1; rep <= run.Repeat; rep++ {
		writer := s.newWriter(run)

		var runErr error
		if run.Path != nil {
			runErr = s.runContinuous(ctx, run, writer, result)
		} else {
			runErr = s.runDiscrete(ctx, run, writer, result)
		}

		if err := writer.Finalize(); err != nil {
			s.cfg.logger.Error("finalize record failed", "path", writer.Path(), "error", err)
			if runErr == nil {
				runErr = err
			}
		}
		result.Records = append(result.Records, writer.Record())
		result.Files = append(result.Files, writer.Path())
		result.Points += writer.Len()

		if runErr != nil {
			s.drain(origin, errors.Is(runErr, ErrRunAborted), result)
			return result, runErr
		}
	}

	if err := s.positioners.Restore(origin); err != nil {
		s.cfg.logger.Warn("restore original positions failed", "error", err)
	}
	s.cfg.logger.Info("run complete", "points", result.Points, "files", result.Files)

	return result, nil
}

// newWriter allocates the next output identity for the run and opens a writer
// for it. An explicit DataName overrides the derived positional naming.
func (s *Sequencer) newWriter(run *Run) *datafile.Writer {
	var name string
	if run.DataName != "" {
		name = s.namer.NextBase(run.DataName)
	} else {
		name = s.namer.Next(run.ScanName, run.namingPosition())
	}

	columns := make([]datafile.Column, 0, len(s.modes.Detectors()))
	for _, det := range s.modes.Detectors() {
		columns = append(columns, datafile.Column{Detector: det.Label(), Labels: det.Labels()})
	}

	return datafile.NewWriter(name, s.positioners.Labels(), columns,
		datafile.WithComments(run.Comments),
		datafile.WithLogger(s.cfg.logger))
}

// runDiscrete executes the discrete point loop: move, settle, acquire, record.
func (s *Sequencer) runDiscrete(ctx context.Context, run *Run, writer *datafile.Writer, result *Result) error {
	for i, targets := range run.Positions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrRunAborted, err)
		}

		readbacks, err := s.positioners.MoveTo(ctx, targets, true)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
			}
			return fmt.Errorf("move to point %d: %w", i+1, err)
		}

		if err := s.settle(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrRunAborted, err)
		}

		frames := 0
		if run.Mode == detector.ContinuousMode {
			frames = run.Frames
		}
		readings, err := s.acquirePoint(ctx, run.Dwelltime, frames)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
			}
			return err
		}

		point := datafile.Point{
			Index:     i + 1,
			Targets:   targets,
			Readbacks: readbacks,
			Readings:  readings,
			Time:      time.Now(),
		}
		if err := writer.AppendPoint(point); err != nil {
			return err
		}

		if point.Failed() && s.cfg.abortOnDetectorFailure {
			return fmt.Errorf("%w: point %d", ErrDetectorFailed, i+1)
		}
		if (i+1)%s.cfg.progressEvery == 0 || i+1 == len(run.Positions) {
			s.cfg.logger.Info("scan progress", "point", i+1, "total", len(run.Positions))
		}
	}

	return nil
}

// acquirePoint runs one acquisition cycle across the ensemble and returns the
// per-detector readings. frames is zero for single-shot modes.
//
// A detector that fails to arm fails the whole point; a detector that starts
// but never completes within the acquisition timeout is stopped and recorded
// as a failed reading while the rest of the ensemble's data survives.
func (s *Sequencer) acquirePoint(ctx context.Context, dwell time.Duration, frames int) ([]datafile.Reading, error) {
	detectors := s.modes.Detectors()

	armCtx, cancelArm := context.WithTimeout(ctx, s.cfg.armTimeout)
	defer cancelArm()

	g, gctx := errgroup.WithContext(armCtx)
	for _, det := range detectors {
		det := det
		g.Go(func() error {
			if err := det.Arm(gctx); err != nil {
				return fmt.Errorf("arm %s: %w", det.Label(), err)
			}
			return det.States().WaitState(gctx, detector.ArmedState)
		})
	}
	if err := g.Wait(); err != nil {
		s.stopAll()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", detector.ErrArmTimeout, err)
		}
		return nil, err
	}

	// All detectors armed. Triggers fan out only past this barrier.
	g, gctx = errgroup.WithContext(ctx)
	for _, det := range detectors {
		det := det
		g.Go(func() error {
			if err := det.Start(gctx); err != nil {
				return fmt.Errorf("start %s: %w", det.Label(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.stopAll()
		return nil, err
	}

	expected := dwell
	if frames > 0 {
		expected = time.Duration(frames) * dwell
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, expected+s.cfg.acqMargin)
	defer cancelWait()

	readings := make([]datafile.Reading, len(detectors))
	for i, det := range detectors {
		readings[i].Detector = det.Label()

		if err := det.WaitComplete(waitCtx); err != nil {
			if ctx.Err() != nil {
				s.stopAll()
				return readings, ctx.Err()
			}
			s.cfg.logger.Warn("acquisition timeout", "detector", det.Label(), "expected", expected)
			det.Stop()
			readings[i].Err = fmt.Errorf("%w: %s", detector.ErrAcquisitionTimeout, det.Label())
			continue
		}

		values, err := det.Readings()
		if err != nil {
			readings[i].Err = err
			continue
		}
		readings[i].Values = values
	}

	for _, det := range detectors {
		if err := det.Disarm(); err != nil {
			s.cfg.logger.Warn("disarm failed", "detector", det.Label(), "error", err)
		}
	}

	return readings, nil
}

// settle blocks for the configured post-move settle delay.
func (s *Sequencer) settle(ctx context.Context) error {
	timer := pool.GetTimer(s.cfg.settleDelay)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stopAll stops every detector best-effort.
func (s *Sequencer) stopAll() {
	for _, det := range s.modes.Detectors() {
		if err := det.Stop(); err != nil {
			s.cfg.logger.Warn("stop failed", "detector", det.Label(), "error", err)
		}
	}
}

// drain brings the system to a safe state after a failed or aborted run:
// every detector stopped and idle, original positions restored.
func (s *Sequencer) drain(origin []float64, aborted bool, result *Result) {
	s.stopAll()
	if err := s.positioners.Restore(origin); err != nil {
		s.cfg.logger.Warn("restore original positions failed", "error", err)
	}
	result.Aborted = aborted
	if aborted {
		s.cfg.logger.Warn("run aborted", "points", result.Points)
	}
}
