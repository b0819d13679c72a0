package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xrmlab/go-scan/internal/queue"
	"github.com/xrmlab/go-scan/internal/util"
	"github.com/xrmlab/go-scan/logger"
	"github.com/xrmlab/go-scan/pv"
)

// Option customizes a Detector.
type Option func(*Detector)

// WithLogger sets the logger for the detector. Defaults to the package logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// Detector is the runtime acquisition entity for one hardware device.
//
// All lifecycle methods are driven by a single owner; the internal lock only
// coordinates the owner with the capture goroutine spawned by Start.
type Detector struct {
	spec   Spec
	bus    pv.Bus
	log    logger.Logger
	states *StateMgr

	mu        sync.Mutex
	mode      Mode
	dwelltime time.Duration
	frames    int

	readings []float64
	acqErr   error
	frameBuf queue.Queue[[]float64]
	captured [][]float64
	done     chan struct{}
	stop     chan struct{}
	stopped  bool
}

// New validates spec and creates a detector over the bus, initialized to
// IdleState with ScalerMode defaults.
func New(spec Spec, bus pv.Bus, opts ...Option) (*Detector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		spec:      spec,
		bus:       bus,
		log:       logger.GetLogger(),
		mode:      ScalerMode,
		dwelltime: time.Second,
		frames:    1,
		frameBuf:  queue.NewSliceQueue[[]float64](0),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("detector", spec.Label)
	d.states = NewStateMgr(d.log, func(prev, next AcqState) {
		d.log.Debug("state change", "prev", prev, "next", next)
	})

	return d, nil
}

// Spec returns the detector's immutable spec.
func (d *Detector) Spec() Spec { return d.spec }

// Label returns the detector label.
func (d *Detector) Label() string { return d.spec.Label }

// States exposes the acquisition state manager, e.g. for barrier waits.
func (d *Detector) States() *StateMgr { return d.states }

// State returns the current acquisition state.
func (d *Detector) State() AcqState { return d.states.State() }

// Mode returns the currently selected acquisition mode.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode
}

// Dwelltime returns the configured acquisition duration per point or frame.
func (d *Detector) Dwelltime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dwelltime
}

// Frames returns the configured frame budget.
func (d *Detector) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.frames
}

// SetMode selects the acquisition mode, dwelltime and frame budget for the scan.
//
// The detector must declare the capability required by mode
// (ErrUnsupportedMode) and must be in IdleState or ConfiguringState
// (ErrInvalidState). On success the detector is left in ConfiguringState.
//
// ROI definitions on the spec are ignored outside ROIMode; supplying them
// together with another mode is not an error.
func (d *Detector) SetMode(mode Mode, dwelltime time.Duration, frames int) error {
	if !d.spec.Supports(mode) {
		return fmt.Errorf("%w: detector %s cannot acquire in %s mode", ErrUnsupportedMode, d.spec.Label, mode)
	}
	if dwelltime <= 0 {
		return fmt.Errorf("%w: non-positive dwelltime %v", ErrInvalidSpec, dwelltime)
	}
	if mode == ContinuousMode && frames <= 0 {
		return fmt.Errorf("%w: continuous mode needs a positive frame budget", ErrInvalidSpec)
	}
	if frames <= 0 {
		frames = 1
	}

	cur := d.states.State()
	if !cur.IsIdle() && cur != ConfiguringState {
		return fmt.Errorf("%w: SetMode in %s", ErrInvalidState, cur)
	}
	if err := d.states.ToConfiguring(); err != nil {
		return err
	}

	d.mu.Lock()
	d.mode = mode
	d.dwelltime = dwelltime
	d.frames = frames
	d.mu.Unlock()

	d.log.Debug("mode selected", "mode", mode, "dwelltime", dwelltime, "frames", frames)

	return nil
}

// SetDwelltime updates the dwelltime. It is only valid in IdleState or
// ConfiguringState; calling it while armed or acquiring fails with
// ErrInvalidState.
func (d *Detector) SetDwelltime(dwelltime time.Duration) error {
	if dwelltime <= 0 {
		return fmt.Errorf("%w: non-positive dwelltime %v", ErrInvalidSpec, dwelltime)
	}

	cur := d.states.State()
	if !cur.IsIdle() && cur != ConfiguringState {
		return fmt.Errorf("%w: SetDwelltime in %s", ErrInvalidState, cur)
	}

	d.mu.Lock()
	d.dwelltime = dwelltime
	d.mu.Unlock()

	return nil
}

// Arm prepares the detector for a triggered acquisition and transitions it to
// ArmedState.
//
// Scaler and ROI modes write the dwelltime preset and zero the channel
// accumulators; continuous mode sizes the streaming pipeline for the frame
// budget. Arm is valid from IdleState (mode already selected) and
// ConfiguringState.
func (d *Detector) Arm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cur := d.states.State()
	if cur.IsIdle() {
		if err := d.states.ToConfiguring(); err != nil {
			return err
		}
	} else if cur != ConfiguringState {
		return fmt.Errorf("%w: Arm in %s", ErrInvalidState, cur)
	}

	d.mu.Lock()
	mode := d.mode
	dwell := d.dwelltime
	frames := d.frames
	d.readings = nil
	d.acqErr = nil
	d.done = make(chan struct{})
	d.stop = make(chan struct{})
	d.stopped = false
	d.mu.Unlock()

	if err := d.bus.Write(d.spec.dwellAddr(), dwell.Seconds()); err != nil {
		return fmt.Errorf("write dwelltime: %w", err)
	}

	switch mode {
	case ScalerMode, ROIMode:
		if d.spec.Kind == KindScaler {
			for i := 0; i < d.spec.Channels; i++ {
				if err := d.bus.Write(d.spec.channelAddr(i), 0); err != nil {
					return fmt.Errorf("zero accumulator: %w", err)
				}
			}
		}

	case ContinuousMode:
		if err := d.bus.Write(d.spec.framesAddr(), float64(frames)); err != nil {
			return fmt.Errorf("size frame pipeline: %w", err)
		}
		d.mu.Lock()
		d.frameBuf.Reset()
		d.captured = nil
		d.mu.Unlock()
	}

	return d.states.ToArmed()
}

// Start begins the acquisition and transitions the detector to AcquiringState.
//
// The call never blocks on the acquisition itself: completion is asynchronous
// for every mode and is observed through Done or WaitComplete. Scaler and ROI
// modes complete after exactly one dwelltime; continuous mode completes when
// the frame budget is exhausted or Stop is called early.
func (d *Detector) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := d.states.ToAcquiring(); err != nil {
		return fmt.Errorf("%w: Start in %s", ErrInvalidState, d.states.State())
	}

	if err := d.bus.Write(d.spec.gateAddr(), 1); err != nil {
		d.states.ToIdle()
		return fmt.Errorf("open count gate: %w", err)
	}

	d.mu.Lock()
	mode := d.mode
	dwell := d.dwelltime
	frames := d.frames
	done := d.done
	stop := d.stop
	d.mu.Unlock()

	switch mode {
	case ScalerMode, ROIMode:
		go d.runCount(done, stop, mode, dwell)
	case ContinuousMode:
		go d.runStream(done, stop, dwell, frames)
	}

	return nil
}

// Done returns a channel closed when the current acquisition completes or is
// stopped. It returns nil before the first Arm.
func (d *Detector) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.done
}

// WaitComplete blocks until the current acquisition completes, is stopped, or
// the context is done.
func (d *Detector) WaitComplete(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return fmt.Errorf("%w: WaitComplete before Arm", ErrInvalidState)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop aborts any in-flight acquisition and forces the detector to IdleState.
//
// It is valid from ConfiguringState, ArmedState and AcquiringState, is
// idempotent, and is a no-op from IdleState.
func (d *Detector) Stop() error {
	if d.states.State().IsIdle() {
		return nil
	}

	d.signalStop()
	d.states.ToIdle()
	d.log.Debug("stopped")

	return nil
}

// Disarm releases the armed configuration after a completed acquisition and
// returns the detector to IdleState via DisarmingState.
func (d *Detector) Disarm() error {
	cur := d.states.State()
	if cur.IsIdle() {
		return nil
	}
	if err := d.states.ToDisarming(); err != nil {
		return fmt.Errorf("%w: Disarm in %s", ErrInvalidState, cur)
	}

	d.signalStop()
	d.states.ToIdle()

	return nil
}

// Readings returns the per-channel values of the last completed acquisition,
// or the acquisition error if it failed.
func (d *Detector) Readings() ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.acqErr != nil {
		return nil, d.acqErr
	}

	return util.CloneSlice(d.readings, 0), nil
}

// Labels returns the value labels matching the order of Readings for the
// current mode.
func (d *Detector) Labels() []string {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	switch {
	case mode == ROIMode:
		labels := make([]string, len(d.spec.ROIs))
		for i, roi := range d.spec.ROIs {
			labels[i] = fmt.Sprintf("%s_%s", d.spec.Label, roi.Label)
		}
		return labels

	case d.spec.Kind == KindScaler:
		labels := make([]string, d.spec.Channels)
		for i := range labels {
			labels[i] = fmt.Sprintf("%s_s%d", d.spec.Label, i+1)
		}
		return labels

	default:
		return []string{d.spec.Label + "_total"}
	}
}

// signalStop closes the stop channel of the current acquisition exactly once.
func (d *Detector) signalStop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil && !d.stopped {
		close(d.stop)
		d.stopped = true
	}
}
