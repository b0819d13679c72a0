package detector

// Mode selects the acquisition timing model of a detector. The mode is global
// to a scan: every enabled, capable detector in a run shares it.
type Mode uint32

const (
	// ScalerMode counts for exactly one dwelltime per point, yielding one
	// scalar value per channel. Used for discrete step scanning.
	ScalerMode Mode = iota
	// ROIMode has the same timing model as ScalerMode but returns values
	// pre-filtered to configured regions of the channel spectrum.
	ROIMode
	// ContinuousMode captures a bounded sequence of frames free-running at one
	// dwelltime per frame, without per-frame external triggering.
	ContinuousMode
)

// String returns string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ScalerMode:
		return "scaler"
	case ROIMode:
		return "roi"
	case ContinuousMode:
		return "continuous"
	default:
		return "unknown"
	}
}
