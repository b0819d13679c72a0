package detector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xrmlab/go-scan/logger"
)

// AcqState represents the stages of a detector acquisition lifecycle.
type AcqState uint32

// Acquisition lifecycle states.
const (
	// IdleState indicates that the detector is released and may be configured.
	IdleState AcqState = iota
	// ConfiguringState indicates that mode and dwell parameters are being applied.
	ConfiguringState
	// ArmedState indicates that the detector is ready for a triggered acquisition.
	ArmedState
	// AcquiringState indicates that an acquisition is in progress.
	AcquiringState
	// DisarmingState indicates that the detector is releasing its armed configuration.
	DisarmingState
)

// IsIdle returns if the current state is idle.
func (s AcqState) IsIdle() bool { return s == IdleState }

// IsArmed returns if the current state is armed.
func (s AcqState) IsArmed() bool { return s == ArmedState }

// IsAcquiring returns if the current state is acquiring.
func (s AcqState) IsAcquiring() bool { return s == AcquiringState }

// String returns string representation of the current state.
func (s AcqState) String() string {
	switch s {
	case IdleState:
		return "idle"
	case ConfiguringState:
		return "configuring"
	case ArmedState:
		return "armed"
	case AcquiringState:
		return "acquiring"
	case DisarmingState:
		return "disarming"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked when the acquisition state changes.
//
// Note: the handler is invoked in a blocking mode while the state lock is
// held. Take care with long-running implementations.
type StateChangeHandler func(prevState AcqState, newState AcqState)

// StateMgr manages the acquisition state of one detector.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. State transitions are safe in concurrent environments and
// waiters are released through a condition broadcast.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	log      logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a new StateMgr initialized to IdleState.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &StateMgr{
		log:      l,
		handlers: append([]StateChangeHandler(nil), handlers...),
	}
	mgr.state.Store(uint32(IdleState))
	mgr.cond = sync.NewCond(&mgr.mu)

	return mgr
}

// State returns the current acquisition state.
func (mgr *StateMgr) State() AcqState {
	return AcqState(mgr.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions invoked on state changes.
func (mgr *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// WaitState waits for the acquisition state to reach the specified state or
// until the context is done. It returns nil if the desired state is reached,
// or the context error if the context is canceled or times out.
func (mgr *StateMgr) WaitState(ctx context.Context, state AcqState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			mgr.log.Debug("wait state canceled", "cur_state", mgr.State(), "desired_state", state)
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// ToConfiguring transitions to ConfiguringState.
//
// This transition is only allowed from IdleState. If the state is already
// ConfiguringState, the function is a no-op.
func (mgr *StateMgr) ToConfiguring() error {
	return mgr.transition(ConfiguringState, IdleState)
}

// ToArmed transitions to ArmedState.
//
// This transition is only allowed from ConfiguringState and indicates the
// detector is ready for a triggered acquisition.
func (mgr *StateMgr) ToArmed() error {
	return mgr.transition(ArmedState, ConfiguringState)
}

// ToAcquiring transitions to AcquiringState.
//
// This transition is only allowed from ArmedState.
func (mgr *StateMgr) ToAcquiring() error {
	return mgr.transition(AcquiringState, ArmedState)
}

// ToDisarming transitions to DisarmingState.
//
// This transition is allowed from ArmedState and AcquiringState.
func (mgr *StateMgr) ToDisarming() error {
	return mgr.transition(DisarmingState, ArmedState, AcquiringState)
}

// ToIdle transitions to IdleState.
//
// This transition is allowed from any state and represents completion of a
// disarm or the abort path of a Stop call. If the state is already IdleState,
// the function is a no-op.
func (mgr *StateMgr) ToIdle() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState.IsIdle() {
		return
	}

	mgr.setState(IdleState)
	mgr.invokeHandlers(curState, IdleState)
}

// transition moves to newState when the current state is one of the allowed
// states, treating an already-reached newState as a no-op.
func (mgr *StateMgr) transition(newState AcqState, allowed ...AcqState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState == newState {
		return nil
	}

	ok := false
	for _, st := range allowed {
		if curState == st {
			ok = true
			break
		}
	}
	if !ok {
		mgr.log.Debug("invalid transition", "cur_state", curState, "desired_state", newState)
		return ErrInvalidTransition
	}

	mgr.setState(newState)
	mgr.invokeHandlers(curState, newState)

	return nil
}

// setState atomically sets the current state and broadcasts to waiters.
func (mgr *StateMgr) setState(newState AcqState) {
	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()
}

// invokeHandlers invokes all registered handlers with the previous and new states.
func (mgr *StateMgr) invokeHandlers(prevState AcqState, newState AcqState) {
	for _, handler := range mgr.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
