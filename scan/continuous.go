package scan

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrmlab/go-scan/datafile"
	"github.com/xrmlab/go-scan/detector"
)

// runContinuous executes a continuous-path run: the detectors stream frames
// while the positioners traverse one trajectory as a single outstanding
// operation.
//
// The ensemble is armed before the trajectory is issued, started immediately
// after, and streamed frames are drained into the record as the path is
// traversed. After both the path and every acquisition have completed, each
// detector's raw frame buffer is dumped next to the data file.
func (s *Sequencer) runContinuous(ctx context.Context, run *Run, writer *datafile.Writer, result *Result) error {
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
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
		}
		return fmt.Errorf("%w: %w", detector.ErrArmTimeout, err)
	}

	waitPath, err := s.positioners.MovePath(ctx, *run.Path)
	if err != nil {
		s.stopAll()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
		}
		return fmt.Errorf("issue path: %w", err)
	}

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
		return err
	}

	expected := time.Duration(run.Frames)*run.Dwelltime + s.cfg.acqMargin
	acqCtx, cancelAcq := context.WithTimeout(ctx, expected)
	defer cancelAcq()

	pathDone := make(chan error, 1)
	go func() { pathDone <- waitPath(ctx) }()

	if err := s.streamFrames(acqCtx, ctx, run, writer, detectors); err != nil {
		s.stopAll()
		<-pathDone
		return err
	}

	if err := <-pathDone; err != nil {
		s.stopAll()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
		}
		return fmt.Errorf("path traversal: %w", err)
	}

	for _, det := range detectors {
		if err := det.Disarm(); err != nil {
			s.cfg.logger.Warn("disarm failed", "detector", det.Label(), "error", err)
		}
	}

	return s.saveArrays(writer.Path(), detectors, result)
}

// streamFrames drains streamed frames into the record until every detector
// has reached its terminal frame count. Each drain tick that yields at least
// one frame becomes a point, recording the frame totals alongside the live
// readbacks.
func (s *Sequencer) streamFrames(acqCtx, runCtx context.Context, run *Run, writer *datafile.Writer, detectors []*detector.Detector) error {
	ticker := time.NewTicker(run.Dwelltime)
	defer ticker.Stop()

	index := 0
	for {
		allDone := true
		for _, det := range detectors {
			select {
			case <-det.Done():
			default:
				allDone = false
			}
		}

		var err error
		if index, err = s.drainFrames(runCtx, writer, detectors, index); err != nil {
			return err
		}
		if allDone {
			// flush whatever the last ticks left queued
			for {
				next, err := s.drainFrames(runCtx, writer, detectors, index)
				if err != nil {
					return err
				}
				if next == index {
					return nil
				}
				index = next
			}
		}

		select {
		case <-runCtx.Done():
			return fmt.Errorf("%w: %w", ErrRunAborted, runCtx.Err())

		case <-acqCtx.Done():
			s.cfg.logger.Warn("acquisition timeout on path", "frames", run.Frames, "dwelltime", run.Dwelltime)
			return fmt.Errorf("%w: frame budget not reached", detector.ErrAcquisitionTimeout)

		case <-ticker.C:
		}
	}
}

// drainFrames pops at most one pending frame per detector and appends a point
// for the tick when any detector yielded one.
func (s *Sequencer) drainFrames(ctx context.Context, writer *datafile.Writer, detectors []*detector.Detector, index int) (int, error) {
	var readings []datafile.Reading
	for _, det := range detectors {
		frame, ok := det.NextFrame()
		if !ok {
			continue
		}
		var total float64
		for _, v := range frame {
			total += v
		}
		readings = append(readings, datafile.Reading{
			Detector: det.Label(),
			Values:   []float64{total},
		})
	}
	if len(readings) == 0 {
		return index, nil
	}

	readbacks, err := s.positioners.Current(ctx)
	if err != nil {
		return index, fmt.Errorf("read path positions: %w", err)
	}

	index++
	point := datafile.Point{
		Index:     index,
		Readbacks: readbacks,
		Readings:  readings,
		Time:      time.Now(),
	}

	return index, writer.AppendPoint(point)
}

// saveArrays dumps each detector's raw captured frames next to the data file.
func (s *Sequencer) saveArrays(base string, detectors []*detector.Detector, result *Result) error {
	for _, det := range detectors {
		if det.FramesCaptured() == 0 {
			continue
		}
		path := fmt.Sprintf("%s_%s.arr", base, det.Label())
		if err := det.SaveArrayData(path); err != nil {
			s.cfg.logger.Warn("save array data failed", "detector", det.Label(), "error", err)
			continue
		}
		result.Files = append(result.Files, path)
	}

	return nil
}
