package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xrmlab/go-scan/detector"
	"github.com/xrmlab/go-scan/logger"
	"github.com/xrmlab/go-scan/positioner"
	"github.com/xrmlab/go-scan/pv"
)

type rig struct {
	bus    *pv.SimBus
	axes   *positioner.Set
	scaler *detector.Detector
	mca    *detector.Detector
	seq    *Sequencer
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()

	bus := pv.NewSimBus()
	bus.EmulateMotor("SIM:m1.VAL", "SIM:m1.RBV", 5*time.Millisecond)
	bus.EmulateMotor("SIM:m2.VAL", "SIM:m2.RBV", 5*time.Millisecond)

	// hardware fills the scaler accumulators while the gate is open
	bus.OnWrite("SIM:scaler1.CNT", func(b *pv.SimBus, _ string, gate float64) {
		if gate != 1 {
			return
		}
		x, _ := b.Read("SIM:m1.RBV")
		b.SetScalar("SIM:scaler1.S1", 1000)
		b.SetScalar("SIM:scaler1.S2", 10*x)
	})
	bus.SetArray("SIM:mca1:Spectrum", []float64{1, 1, 1, 1})

	axes, err := positioner.NewSet([]positioner.Spec{
		{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV", Tolerance: 1e-3},
		{Label: "samy", DrivePV: "SIM:m2.VAL", ReadbackPV: "SIM:m2.RBV", Tolerance: 1e-3},
	}, bus)
	require.NoError(t, err)

	scaler, err := detector.New(detector.Spec{
		Label: "scaler1", PV: "SIM:scaler1", Kind: detector.KindScaler,
		Channels: 2, Enabled: true,
	}, bus)
	require.NoError(t, err)

	mca, err := detector.New(detector.Spec{
		Label: "mca1", PV: "SIM:mca1", Kind: detector.KindMultiChannelArray,
		Channels: 4, SupportsROI: true, SupportsStreaming: true, Enabled: true,
		ROIs: []detector.ROI{{Label: "roi1", Lo: 0, Hi: 1}},
	}, bus)
	require.NoError(t, err)

	opts = append([]Option{WithSettleDelay(time.Millisecond)}, opts...)
	seq, err := NewSequencer(axes, NewModeController([]*detector.Detector{scaler, mca}, nil), opts...)
	require.NoError(t, err)

	return &rig{bus: bus, axes: axes, scaler: scaler, mca: mca, seq: seq}
}

func points(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{float64(i), 1.0}
	}
	return out
}

func TestRunDiscrete(t *testing.T) {
	r := newRig(t)
	base := filepath.Join(t.TempDir(), "scan1")

	result, err := r.seq.Run(context.Background(), &Run{
		ScanName:  base,
		Positions: points(3),
		Mode:      detector.ScalerMode,
		Dwelltime: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Points)
	assert.False(t, result.Aborted)
	require.Len(t, result.Records, 1)
	require.Len(t, result.Files, 1)
	assert.Equal(t, base+"_0.001", result.Files[0])

	rec := result.Records[0]
	require.Len(t, rec.Points, 3)
	for i, p := range rec.Points {
		assert.Equal(t, i+1, p.Index)
		assert.InDelta(t, float64(i), p.Readbacks[0], 1e-3)
		require.Len(t, p.Readings, 2)
		assert.False(t, p.Failed())
	}

	// scaler channel follows the axis position
	last := rec.Points[2].Readings[0]
	assert.Equal(t, "scaler1", last.Detector)
	assert.InDelta(t, 20, last.Values[1], 0.1)

	// detectors released after the run
	assert.True(t, r.scaler.State().IsIdle())
	assert.True(t, r.mca.State().IsIdle())

	_, err = os.Stat(result.Files[0])
	require.NoError(t, err)
}

func TestRunRepeat(t *testing.T) {
	r := newRig(t)
	base := filepath.Join(t.TempDir(), "scan1")

	result, err := r.seq.Run(context.Background(), &Run{
		ScanName:  base,
		Positions: points(2),
		Mode:      detector.ScalerMode,
		Dwelltime: 10 * time.Millisecond,
		Repeat:    3,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, result.Points)
	require.Len(t, result.Records, 3)
	assert.Equal(t, []string{
		base + "_0.001",
		base + "_0.002",
		base + "_0.003",
	}, result.Files)
}

func TestRunExplicitDataName(t *testing.T) {
	r := newRig(t)
	base := filepath.Join(t.TempDir(), "mydata")

	result, err := r.seq.Run(context.Background(), &Run{
		ScanName:  "ignored",
		DataName:  base,
		Positions: points(1),
		Mode:      detector.ScalerMode,
		Dwelltime: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{base + ".001"}, result.Files)
}

func TestRunValidation(t *testing.T) {
	r := newRig(t)

	_, err := r.seq.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilRun)

	_, err = r.seq.Run(context.Background(), &Run{ScanName: "s", Dwelltime: time.Second})
	require.ErrorIs(t, err, ErrNoPositions)

	_, err = r.seq.Run(context.Background(), &Run{
		ScanName: "s", Positions: [][]float64{{1}}, Dwelltime: time.Second,
	})
	require.ErrorIs(t, err, positioner.ErrTargetCount)

	_, err = r.seq.Run(context.Background(), &Run{
		ScanName: "s", Positions: points(1),
	})
	require.ErrorIs(t, err, detector.ErrInvalidSpec)
}

func TestRunFailsFastBeforeMotion(t *testing.T) {
	r := newRig(t)

	// the scaler cannot stream, so continuous mode must fail the whole
	// ensemble before any axis moves
	_, err := r.seq.Run(context.Background(), &Run{
		ScanName:  "s",
		Positions: points(3),
		Mode:      detector.ContinuousMode,
		Dwelltime: 10 * time.Millisecond,
		Frames:    2,
	})
	require.ErrorIs(t, err, detector.ErrUnsupportedMode)

	drive, err := r.bus.Read("SIM:m1.VAL")
	if err == nil {
		assert.Zero(t, drive)
	}
	assert.True(t, r.mca.State().IsIdle())
}

func TestRunAbort(t *testing.T) {
	r := newRig(t)
	base := filepath.Join(t.TempDir(), "scan1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	result, err := r.seq.Run(ctx, &Run{
		ScanName:  base,
		Positions: points(100),
		Mode:      detector.ScalerMode,
		Dwelltime: 20 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrRunAborted)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)

	// the partial record is well formed
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Less(t, len(rec.Points), 100)
	for i, p := range rec.Points {
		assert.Equal(t, i+1, p.Index)
	}

	// every detector is released
	assert.True(t, r.scaler.State().IsIdle())
	assert.True(t, r.mca.State().IsIdle())

	// original positions restored
	drive, err := r.bus.Read("SIM:m1.VAL")
	require.NoError(t, err)
	assert.Zero(t, drive)

	_, err = os.Stat(result.Files[0])
	require.NoError(t, err)
}

func TestRunInProgress(t *testing.T) {
	r := newRig(t)
	base := filepath.Join(t.TempDir(), "scan1")

	started := make(chan struct{})
	r.scaler.States().AddHandler(func(_, next detector.AcqState) {
		if next.IsAcquiring() {
			select {
			case <-started:
			default:
				close(started)
			}
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := r.seq.Run(context.Background(), &Run{
			ScanName:  base,
			Positions: points(2),
			Mode:      detector.ScalerMode,
			Dwelltime: 100 * time.Millisecond,
		})
		done <- err
	}()

	<-started
	_, err := r.seq.Run(context.Background(), &Run{
		ScanName:  base,
		Positions: points(1),
		Mode:      detector.ScalerMode,
		Dwelltime: time.Millisecond,
	})
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, <-done)
}

func TestArmBarrierPrecedesStart(t *testing.T) {
	r := newRig(t)
	base := filepath.Join(t.TempDir(), "scan1")

	var mu sync.Mutex
	var events []string
	record := func(label string) detector.StateChangeHandler {
		return func(_, next detector.AcqState) {
			if next.IsArmed() || next.IsAcquiring() {
				mu.Lock()
				events = append(events, fmt.Sprintf("%s:%s", label, next))
				mu.Unlock()
			}
		}
	}
	r.scaler.States().AddHandler(record("scaler1"))
	r.mca.States().AddHandler(record("mca1"))

	_, err := r.seq.Run(context.Background(), &Run{
		ScanName:  base,
		Positions: points(2),
		Mode:      detector.ScalerMode,
		Dwelltime: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 8) // 2 points x 2 detectors x (armed, acquiring)

	// per point: both detectors armed before either starts acquiring
	for p := 0; p < 2; p++ {
		cycle := events[p*4 : p*4+4]
		assert.Contains(t, cycle[0], "armed")
		assert.Contains(t, cycle[1], "armed")
		assert.Contains(t, cycle[2], "acquiring")
		assert.Contains(t, cycle[3], "acquiring")
	}
}

func TestDetectorFailureFlagged(t *testing.T) {
	newBrokenRig := func(t *testing.T, opts ...Option) (*Sequencer, *pv.SimBus) {
		t.Helper()

		bus := pv.NewSimBus()
		bus.EmulateMotor("SIM:m1.VAL", "SIM:m1.RBV", 5*time.Millisecond)

		axes, err := positioner.NewSet([]positioner.Spec{
			{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV"},
		}, bus)
		require.NoError(t, err)

		// no spectrum address seeded, the readout fails every point
		broken, err := detector.New(detector.Spec{
			Label: "mca1", PV: "SIM:mca1", Kind: detector.KindMultiChannelArray,
			Channels: 4, Enabled: true,
		}, bus)
		require.NoError(t, err)

		opts = append([]Option{WithSettleDelay(time.Millisecond)}, opts...)
		seq, err := NewSequencer(axes, NewModeController([]*detector.Detector{broken}, nil), opts...)
		require.NoError(t, err)

		return seq, bus
	}

	t.Run("flagged and continued", func(t *testing.T) {
		seq, _ := newBrokenRig(t)
		base := filepath.Join(t.TempDir(), "scan1")

		result, err := seq.Run(context.Background(), &Run{
			ScanName:  base,
			Positions: [][]float64{{0}, {1}},
			Mode:      detector.ScalerMode,
			Dwelltime: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Points)
		for _, p := range result.Records[0].Points {
			assert.True(t, p.Failed())
		}
	})

	t.Run("escalated to fatal", func(t *testing.T) {
		seq, _ := newBrokenRig(t, WithAbortOnDetectorFailure(true))
		base := filepath.Join(t.TempDir(), "scan1")

		result, err := seq.Run(context.Background(), &Run{
			ScanName:  base,
			Positions: [][]float64{{0}, {1}},
			Mode:      detector.ScalerMode,
			Dwelltime: 10 * time.Millisecond,
		})
		require.ErrorIs(t, err, ErrDetectorFailed)
		// the failed point is still recorded before the run stops
		assert.Equal(t, 1, result.Points)
	})
}

func TestDisabledDetectorExcluded(t *testing.T) {
	bus := pv.NewSimBus()
	enabled, err := detector.New(detector.Spec{
		Label: "d1", PV: "SIM:d1", Kind: detector.KindScaler, Channels: 1, Enabled: true,
	}, bus)
	require.NoError(t, err)
	disabled, err := detector.New(detector.Spec{
		Label: "d2", PV: "SIM:d2", Kind: detector.KindScaler, Channels: 1, Enabled: false,
	}, bus)
	require.NoError(t, err)

	mockLog := logger.NewMockLogger()
	mockLog.On("Debug", mock.Anything, mock.Anything).Return()
	mockLog.On("Info", mock.Anything, mock.Anything).Return()

	mc := NewModeController([]*detector.Detector{enabled, disabled}, mockLog)
	require.Len(t, mc.Detectors(), 1)
	assert.Equal(t, "d1", mc.Detectors()[0].Label())
	mockLog.AssertCalled(t, "Debug", "detector disabled, excluded from run", mock.Anything)

	require.NoError(t, mc.Prepare(detector.ScalerMode, time.Second, 0))
	// the disabled detector is never touched
	assert.True(t, disabled.State().IsIdle())
	assert.Equal(t, detector.ConfiguringState, enabled.State())
}

func TestModeControllerFailFast(t *testing.T) {
	bus := pv.NewSimBus()
	scaler, err := detector.New(detector.Spec{
		Label: "d1", PV: "SIM:d1", Kind: detector.KindScaler, Channels: 1, Enabled: true,
	}, bus)
	require.NoError(t, err)
	mca, err := detector.New(detector.Spec{
		Label: "d2", PV: "SIM:d2", Kind: detector.KindMultiChannelArray,
		Channels: 4, SupportsROI: true, Enabled: true,
	}, bus)
	require.NoError(t, err)

	mc := NewModeController([]*detector.Detector{mca, scaler}, nil)
	require.ErrorIs(t, mc.Prepare(detector.ROIMode, time.Second, 0), detector.ErrUnsupportedMode)

	// capability is checked across the ensemble before any detector is touched
	assert.True(t, mca.State().IsIdle())
	assert.True(t, scaler.State().IsIdle())
}

func TestConfigOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewConfig()
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.armTimeout)
		assert.Equal(t, 50*time.Millisecond, cfg.settleDelay)
		assert.Equal(t, 25, cfg.progressEvery)
		assert.False(t, cfg.abortOnDetectorFailure)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := NewConfig(WithArmTimeout(time.Nanosecond))
		require.Error(t, err)

		_, err = NewConfig(WithSettleDelay(0))
		require.Error(t, err)

		_, err = NewConfig(WithSettleDelay(time.Minute))
		require.Error(t, err)

		_, err = NewConfig(WithProgressEvery(0))
		require.Error(t, err)

		_, err = NewConfig(WithAcquisitionMargin(-time.Second))
		require.Error(t, err)
	})

	t.Run("applied", func(t *testing.T) {
		cfg, err := NewConfig(
			WithArmTimeout(time.Second),
			WithSettleDelay(5*time.Millisecond),
			WithAcquisitionMargin(2*time.Second),
			WithProgressEvery(10),
			WithAbortOnDetectorFailure(true),
		)
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.armTimeout)
		assert.Equal(t, 5*time.Millisecond, cfg.settleDelay)
		assert.Equal(t, 2*time.Second, cfg.acqMargin)
		assert.Equal(t, 10, cfg.progressEvery)
		assert.True(t, cfg.abortOnDetectorFailure)
	})
}
