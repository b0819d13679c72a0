package detector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// FramesCaptured returns the number of frames captured by the current or last
// continuous acquisition.
func (d *Detector) FramesCaptured() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.captured)
}

// NextFrame pops the oldest undelivered frame from the streaming buffer.
// The sequencer consumes frames through this during continuous-path scans.
func (d *Detector) NextFrame() ([]float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.frameBuf.Dequeue()
}

// SaveArrayData persists the raw captured frame buffer to path as an ASCII
// table, one frame per row.
//
// It is only valid after a continuous acquisition has reached its terminal
// frame count or been stopped. Repeated calls with the same path overwrite
// the previous file; the write is atomic.
func (d *Detector) SaveArrayData(path string) error {
	d.mu.Lock()
	mode := d.mode
	done := d.done
	frames := d.captured
	dwell := d.dwelltime
	d.mu.Unlock()

	if mode != ContinuousMode {
		return fmt.Errorf("%w: SaveArrayData in %s mode", ErrInvalidState, mode)
	}
	if done == nil {
		return fmt.Errorf("%w: no acquisition armed", ErrNoArrayData)
	}

	select {
	case <-done:
	default:
		return fmt.Errorf("%w: acquisition still running", ErrNoArrayData)
	}

	if len(frames) == 0 {
		return fmt.Errorf("%w: zero frames captured", ErrNoArrayData)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# detector: %s\n", d.spec.Label)
	fmt.Fprintf(&sb, "# frames: %d\n", len(frames))
	fmt.Fprintf(&sb, "# dwelltime: %.6f\n", dwell.Seconds())
	for _, frame := range frames {
		for i, v := range frame {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		sb.WriteByte('\n')
	}

	if err := renameio.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("save array data: %w", err)
	}
	d.log.Info("array data saved", "path", path, "frames", len(frames))

	return nil
}
