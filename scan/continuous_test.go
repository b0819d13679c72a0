package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrmlab/go-scan/detector"
	"github.com/xrmlab/go-scan/positioner"
	"github.com/xrmlab/go-scan/pv"
)

func newPathRig(t *testing.T) (*Sequencer, *detector.Detector, *pv.SimBus) {
	t.Helper()

	bus := pv.NewSimBus()
	bus.EmulateMotor("SIM:m1.VAL", "SIM:m1.RBV", 5*time.Millisecond)
	bus.SetArray("SIM:mca1:Spectrum", []float64{3, 0, 0, 0})

	axes, err := positioner.NewSet([]positioner.Spec{
		{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV", Tolerance: 1e-3},
	}, bus)
	require.NoError(t, err)

	mca, err := detector.New(detector.Spec{
		Label: "mca1", PV: "SIM:mca1", Kind: detector.KindMultiChannelArray,
		Channels: 4, SupportsStreaming: true, Enabled: true,
	}, bus)
	require.NoError(t, err)

	seq, err := NewSequencer(axes, NewModeController([]*detector.Detector{mca}, nil),
		WithSettleDelay(time.Millisecond))
	require.NoError(t, err)

	return seq, mca, bus
}

func TestRunContinuousPath(t *testing.T) {
	seq, mca, _ := newPathRig(t)
	base := filepath.Join(t.TempDir(), "pathscan")

	result, err := seq.Run(context.Background(), &Run{
		ScanName: base,
		Path: &positioner.Path{
			Start:    []float64{0},
			Stop:     []float64{1},
			Duration: 30 * time.Millisecond,
		},
		Mode:      detector.ContinuousMode,
		Dwelltime: 10 * time.Millisecond,
		Frames:    5,
	})
	require.NoError(t, err)

	assert.False(t, result.Aborted)
	require.Len(t, result.Records, 1)

	// every streamed frame landed in the record
	rec := result.Records[0]
	assert.Equal(t, 5, len(rec.Points))
	for i, p := range rec.Points {
		assert.Equal(t, i+1, p.Index)
		require.Len(t, p.Readings, 1)
		assert.InDelta(t, 3, p.Readings[0].Values[0], 1e-9)
		require.Len(t, p.Readbacks, 1)
	}

	// the raw frame dump sits next to the data file
	require.Len(t, result.Files, 2)
	dataPath := base + "_0.001"
	assert.Equal(t, dataPath, result.Files[0])
	assert.Equal(t, dataPath+"_mca1.arr", result.Files[1])

	data, err := os.ReadFile(result.Files[1])
	require.NoError(t, err)
	assert.Contains(t, string(data), "# frames: 5")

	assert.True(t, mca.State().IsIdle())
}

func TestRunContinuousAbort(t *testing.T) {
	seq, mca, bus := newPathRig(t)
	base := filepath.Join(t.TempDir(), "pathscan")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	result, err := seq.Run(ctx, &Run{
		ScanName: base,
		Path: &positioner.Path{
			Start:    []float64{0},
			Stop:     []float64{1},
			Duration: 10 * time.Second,
		},
		Mode:      detector.ContinuousMode,
		Dwelltime: 20 * time.Millisecond,
		Frames:    1000,
	})
	require.ErrorIs(t, err, ErrRunAborted)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.True(t, mca.State().IsIdle())

	// original position restored
	drive, err := bus.Read("SIM:m1.VAL")
	require.NoError(t, err)
	assert.Zero(t, drive)
}
