package scan

import "errors"

var (
	// ErrNilRun indicates that a nil Run was provided.
	ErrNilRun = errors.New("scan run is nil")

	// ErrNoPositions indicates a run with neither positions nor a path.
	ErrNoPositions = errors.New("scan run has no positions")

	// ErrNoDetectors indicates that no enabled detector remains after Prepare.
	ErrNoDetectors = errors.New("scan run has no enabled detectors")

	// ErrRunInProgress indicates that the sequencer is already driving a run.
	ErrRunInProgress = errors.New("scan run already in progress")

	// ErrRunAborted indicates that an external abort terminated the run. The
	// partial record accompanying the error is well formed.
	ErrRunAborted = errors.New("scan run aborted")

	// ErrDetectorFailed indicates that a detector failure escalated to a fatal
	// run error under the abort-on-detector-failure configuration.
	ErrDetectorFailed = errors.New("detector failure aborted the run")

	// ErrConfigNil indicates that a nil sequencer config was provided.
	ErrConfigNil = errors.New("sequencer config is nil")
)
