package detector

import "fmt"

// Kind identifies the hardware family of a detector.
type Kind uint8

const (
	// KindScaler is a discrete counting device with one accumulator per channel.
	KindScaler Kind = iota
	// KindMultiChannelArray is a spectrum device producing an array of channel counts.
	KindMultiChannelArray
)

// String returns string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindScaler:
		return "scaler"
	case KindMultiChannelArray:
		return "mca"
	default:
		return "unknown"
	}
}

// ROI describes one region of interest: an inclusive channel range of the raw
// spectrum, summed into a single reported value.
type ROI struct {
	Label string
	Lo    int
	Hi    int
}

// Spec describes one detector as declared in the station configuration.
//
// ROI definitions may be present regardless of mode; they are only consulted
// when the detector acquires in ROIMode.
type Spec struct {
	// Label identifies the detector in records and log output.
	Label string
	// PV is the base hardware address; per-register addresses derive from it.
	PV string
	// Kind selects the hardware family.
	Kind Kind
	// SupportsROI declares the region-of-interest filtering capability.
	SupportsROI bool
	// SupportsStreaming declares the free-running array capture capability.
	SupportsStreaming bool
	// Channels is the number of counting channels (scaler) or spectrum bins (mca).
	Channels int
	// ROIs holds the configured regions for ROIMode.
	ROIs []ROI
	// Enabled detectors participate in scans; disabled ones are silently excluded.
	Enabled bool
}

// Validate checks the spec invariants.
func (s Spec) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidSpec)
	}
	if s.PV == "" {
		return fmt.Errorf("%w: %s: empty base address", ErrInvalidSpec, s.Label)
	}
	if s.Channels <= 0 {
		return fmt.Errorf("%w: %s: channel count must be positive", ErrInvalidSpec, s.Label)
	}
	for _, roi := range s.ROIs {
		if roi.Lo < 0 || roi.Hi < roi.Lo || roi.Hi >= s.Channels {
			return fmt.Errorf("%w: %s: roi %q range [%d, %d] outside spectrum of %d channels",
				ErrInvalidSpec, s.Label, roi.Label, roi.Lo, roi.Hi, s.Channels)
		}
	}

	return nil
}

// Supports reports whether the detector declares the capability required by mode.
// Every detector can count in ScalerMode.
func (s Spec) Supports(mode Mode) bool {
	switch mode {
	case ScalerMode:
		return true
	case ROIMode:
		return s.SupportsROI
	case ContinuousMode:
		return s.SupportsStreaming
	default:
		return false
	}
}

// Register address helpers. The suffix layout follows the scaler and area
// detector record conventions of the control system.

func (s Spec) dwellAddr() string {
	if s.Kind == KindScaler {
		return s.PV + ".TP"
	}
	return s.PV + ":AcquireTime"
}

func (s Spec) gateAddr() string {
	if s.Kind == KindScaler {
		return s.PV + ".CNT"
	}
	return s.PV + ":Acquire"
}

func (s Spec) framesAddr() string { return s.PV + ":NumImages" }

func (s Spec) spectrumAddr() string { return s.PV + ":Spectrum" }

func (s Spec) channelAddr(i int) string { return fmt.Sprintf("%s.S%d", s.PV, i+1) }
