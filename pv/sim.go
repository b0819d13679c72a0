package pv

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// WriteHook is invoked after a value has been stored by SimBus.Write.
// Hooks emulate hardware reactions to register writes, e.g. a motor record
// driving its readback toward the setpoint. Hooks run in the writer's
// goroutine; slow emulations should spawn their own.
type WriteHook func(bus *SimBus, addr string, value float64)

// SimBus is an in-memory Bus implementation used by tests and examples.
//
// Values are held in concurrent maps so detectors and positioners can hit the
// bus from parallel goroutines without external locking.
type SimBus struct {
	scalars *xsync.MapOf[string, float64]
	arrays  *xsync.MapOf[string, []float64]
	hooks   *xsync.MapOf[string, WriteHook]
}

var _ Bus = (*SimBus)(nil)

// NewSimBus creates an empty simulation bus.
func NewSimBus() *SimBus {
	return &SimBus{
		scalars: xsync.NewMapOf[string, float64](),
		arrays:  xsync.NewMapOf[string, []float64](),
		hooks:   xsync.NewMapOf[string, WriteHook](),
	}
}

// Read returns the scalar value stored at addr.
func (b *SimBus) Read(addr string) (float64, error) {
	val, ok := b.scalars.Load(addr)
	if !ok {
		return 0, ErrUnknownAddress
	}

	return val, nil
}

// ReadArray returns the array value stored at addr.
func (b *SimBus) ReadArray(addr string) ([]float64, error) {
	val, ok := b.arrays.Load(addr)
	if !ok {
		if _, scalar := b.scalars.Load(addr); scalar {
			return nil, ErrNotArray
		}
		return nil, ErrUnknownAddress
	}

	return val, nil
}

// Write stores a scalar value at addr and fires a registered write hook, if any.
func (b *SimBus) Write(addr string, value float64) error {
	b.scalars.Store(addr, value)

	if hook, ok := b.hooks.Load(addr); ok {
		hook(b, addr, value)
	}

	return nil
}

// SetScalar seeds a scalar value without triggering write hooks.
func (b *SimBus) SetScalar(addr string, value float64) {
	b.scalars.Store(addr, value)
}

// SetArray seeds an array value.
func (b *SimBus) SetArray(addr string, value []float64) {
	b.arrays.Store(addr, value)
}

// OnWrite registers a hook invoked after each Write to addr.
func (b *SimBus) OnWrite(addr string, hook WriteHook) {
	b.hooks.Store(addr, hook)
}

// EmulateMotor wires a motor-record emulation between a drive and a readback
// address: a write to drive settles the readback onto the setpoint after the
// given settle delay. The initial readback is seeded to zero if absent.
func (b *SimBus) EmulateMotor(drive, readback string, settle time.Duration) {
	if _, ok := b.scalars.Load(readback); !ok {
		b.scalars.Store(readback, 0)
	}

	b.OnWrite(drive, func(bus *SimBus, _ string, target float64) {
		if settle <= 0 {
			bus.SetScalar(readback, target)
			return
		}
		go func() {
			time.Sleep(settle)
			bus.SetScalar(readback, target)
		}()
	})
}
