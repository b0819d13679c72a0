package positioner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrmlab/go-scan/pv"
)

func simAxes(t *testing.T, bus *pv.SimBus) *Set {
	t.Helper()

	bus.EmulateMotor("SIM:m1.VAL", "SIM:m1.RBV", 10*time.Millisecond)
	bus.EmulateMotor("SIM:m2.VAL", "SIM:m2.RBV", 10*time.Millisecond)

	set, err := NewSet([]Spec{
		{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV", Tolerance: 1e-3},
		{Label: "samy", DrivePV: "SIM:m2.VAL", ReadbackPV: "SIM:m2.RBV", Tolerance: 1e-3},
	}, bus)
	require.NoError(t, err)

	return set
}

func TestNewSetValidation(t *testing.T) {
	bus := pv.NewSimBus()

	_, err := NewSet(nil, bus)
	require.ErrorIs(t, err, ErrInvalidSpec)

	// drive and readback must be distinct addresses
	_, err = NewSet([]Spec{
		{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.VAL"},
	}, bus)
	require.ErrorIs(t, err, ErrInvalidSpec)

	_, err = NewSet([]Spec{
		{DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV"},
	}, bus)
	require.ErrorIs(t, err, ErrInvalidSpec)
}

func TestMoveTo(t *testing.T) {
	t.Run("move and settle", func(t *testing.T) {
		bus := pv.NewSimBus()
		set := simAxes(t, bus)

		realized, err := set.MoveTo(context.Background(), []float64{1.5, -2.0}, true)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, realized[0], 1e-3)
		assert.InDelta(t, -2.0, realized[1], 1e-3)

		current, err := set.Current(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 1.5, current[0], 1e-3)
	})

	t.Run("target count mismatch", func(t *testing.T) {
		bus := pv.NewSimBus()
		set := simAxes(t, bus)

		_, err := set.MoveTo(context.Background(), []float64{1.0}, true)
		require.ErrorIs(t, err, ErrTargetCount)
	})

	t.Run("no wait returns immediately", func(t *testing.T) {
		bus := pv.NewSimBus()
		set := simAxes(t, bus)

		start := time.Now()
		_, err := set.MoveTo(context.Background(), []float64{5.0, 5.0}, false)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("move timeout", func(t *testing.T) {
		bus := pv.NewSimBus()
		// readback never follows the drive
		bus.SetScalar("SIM:stuck.RBV", 0)

		set, err := NewSet([]Spec{
			{Label: "stuck", DrivePV: "SIM:stuck.VAL", ReadbackPV: "SIM:stuck.RBV", Tolerance: 1e-3},
		}, bus, WithMoveTimeout(50*time.Millisecond))
		require.NoError(t, err)

		_, err = set.MoveTo(context.Background(), []float64{10.0}, true)
		require.ErrorIs(t, err, ErrMoveTimeout)
	})

	t.Run("context cancel", func(t *testing.T) {
		bus := pv.NewSimBus()
		bus.SetScalar("SIM:stuck.RBV", 0)

		set, err := NewSet([]Spec{
			{Label: "stuck", DrivePV: "SIM:stuck.VAL", ReadbackPV: "SIM:stuck.RBV"},
		}, bus)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = set.MoveTo(ctx, []float64{10.0}, true)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDoneFlag(t *testing.T) {
	t.Run("settles on done flag", func(t *testing.T) {
		bus := pv.NewSimBus()
		bus.SetScalar("SIM:m1.RBV", 0)
		bus.SetScalar("SIM:m1.DMOV", 1)
		bus.OnWrite("SIM:m1.VAL", func(b *pv.SimBus, _ string, target float64) {
			b.SetScalar("SIM:m1.DMOV", 0)
			go func() {
				time.Sleep(15 * time.Millisecond)
				b.SetScalar("SIM:m1.RBV", target)
				b.SetScalar("SIM:m1.DMOV", 1)
			}()
		})

		set, err := NewSet([]Spec{
			{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV", DonePV: "SIM:m1.DMOV", Tolerance: 1e-3},
		}, bus)
		require.NoError(t, err)

		realized, err := set.MoveTo(context.Background(), []float64{3.25}, true)
		require.NoError(t, err)
		assert.InDelta(t, 3.25, realized[0], 1e-3)
	})

	t.Run("readback mismatch", func(t *testing.T) {
		bus := pv.NewSimBus()
		// done flag reports completion but the axis stalled short of target
		bus.SetScalar("SIM:m1.RBV", 1.0)
		bus.SetScalar("SIM:m1.DMOV", 1)

		set, err := NewSet([]Spec{
			{Label: "samx", DrivePV: "SIM:m1.VAL", ReadbackPV: "SIM:m1.RBV", DonePV: "SIM:m1.DMOV", Tolerance: 1e-3},
		}, bus)
		require.NoError(t, err)

		_, err = set.MoveTo(context.Background(), []float64{5.0}, true)
		require.ErrorIs(t, err, ErrReadbackMismatch)
	})
}

func TestRestore(t *testing.T) {
	bus := pv.NewSimBus()
	set := simAxes(t, bus)

	_, err := set.MoveTo(context.Background(), []float64{4.0, 4.0}, true)
	require.NoError(t, err)

	require.NoError(t, set.Restore([]float64{0, 0}))

	drive, err := bus.Read("SIM:m1.VAL")
	require.NoError(t, err)
	assert.Zero(t, drive)

	require.ErrorIs(t, set.Restore([]float64{0}), ErrTargetCount)
}

func TestMovePath(t *testing.T) {
	t.Run("traverses to path end", func(t *testing.T) {
		bus := pv.NewSimBus()
		set := simAxes(t, bus)

		wait, err := set.MovePath(context.Background(), Path{
			Start:    []float64{0, 0},
			Stop:     []float64{2, 2},
			Duration: 50 * time.Millisecond,
		})
		require.NoError(t, err)
		require.NoError(t, wait(context.Background()))

		current, err := set.Current(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 2.0, current[0], 1e-3)
		assert.InDelta(t, 2.0, current[1], 1e-3)
	})

	t.Run("validation", func(t *testing.T) {
		bus := pv.NewSimBus()
		set := simAxes(t, bus)

		_, err := set.MovePath(context.Background(), Path{
			Start: []float64{0}, Stop: []float64{1, 1}, Duration: time.Second,
		})
		require.ErrorIs(t, err, ErrTargetCount)

		_, err = set.MovePath(context.Background(), Path{
			Start: []float64{0, 0}, Stop: []float64{1, 1},
		})
		require.ErrorIs(t, err, ErrInvalidSpec)
	})
}

func TestLabels(t *testing.T) {
	bus := pv.NewSimBus()
	set := simAxes(t, bus)

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"samx", "samy"}, set.Labels())
}
