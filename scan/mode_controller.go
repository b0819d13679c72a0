package scan

import (
	"fmt"
	"time"

	"github.com/xrmlab/go-scan/detector"
	"github.com/xrmlab/go-scan/logger"
)

// ModeController applies one acquisition mode uniformly across a detector
// ensemble before a run starts.
type ModeController struct {
	detectors []*detector.Detector
	log       logger.Logger
}

// NewModeController creates a controller over the given detectors. Disabled
// detectors are excluded silently and never participate in a run.
func NewModeController(detectors []*detector.Detector, log logger.Logger) *ModeController {
	if log == nil {
		log = logger.GetLogger()
	}

	active := make([]*detector.Detector, 0, len(detectors))
	for _, det := range detectors {
		if !det.Spec().Enabled {
			log.Debug("detector disabled, excluded from run", "detector", det.Label())
			continue
		}
		active = append(active, det)
	}

	return &ModeController{detectors: active, log: log}
}

// Detectors returns the active (enabled) detectors.
func (c *ModeController) Detectors() []*detector.Detector { return c.detectors }

// Prepare configures every active detector for the given mode, dwelltime and
// frame budget.
//
// Capability is checked across the whole ensemble before any detector is
// touched, so an unsupported mode fails fast with ErrUnsupportedMode and no
// partial configuration.
func (c *ModeController) Prepare(mode detector.Mode, dwelltime time.Duration, frames int) error {
	if len(c.detectors) == 0 {
		return ErrNoDetectors
	}

	for _, det := range c.detectors {
		if !det.Spec().Supports(mode) {
			return fmt.Errorf("%w: detector %s cannot acquire in %s mode",
				detector.ErrUnsupportedMode, det.Label(), mode)
		}
	}

	for _, det := range c.detectors {
		if err := det.SetMode(mode, dwelltime, frames); err != nil {
			return fmt.Errorf("configure %s: %w", det.Label(), err)
		}
	}

	c.log.Info("ensemble configured", "mode", mode, "dwelltime", dwelltime, "detectors", len(c.detectors))

	return nil
}

// Reset returns every active detector to idle, stopping any in-flight
// acquisition. Errors are logged and the reset continues.
func (c *ModeController) Reset() {
	for _, det := range c.detectors {
		if err := det.Stop(); err != nil {
			c.log.Warn("reset detector failed", "detector", det.Label(), "error", err)
		}
	}
}
