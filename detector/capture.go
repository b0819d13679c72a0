package detector

import (
	"fmt"
	"time"

	"github.com/xrmlab/go-scan/internal/pool"
	"github.com/xrmlab/go-scan/internal/util"
)

// runCount performs one scaler or ROI counting cycle: count for exactly one
// dwelltime, close the gate, read out the channel values and signal
// completion. A stop signal aborts without readings.
func (d *Detector) runCount(done chan struct{}, stop <-chan struct{}, mode Mode, dwell time.Duration) {
	timer := pool.GetTimer(dwell)
	defer pool.PutTimer(timer)

	select {
	case <-stop:
		_ = d.bus.Write(d.spec.gateAddr(), 0)
		d.finish(done, nil, ErrStopped)
		return

	case <-timer.C:
	}

	if err := d.bus.Write(d.spec.gateAddr(), 0); err != nil {
		d.finish(done, nil, fmt.Errorf("close count gate: %w", err))
		return
	}

	values, err := d.readout(mode)
	d.finish(done, values, err)
}

// runStream performs a continuous capture: read one frame per dwelltime until
// the frame budget is exhausted or a stop signal arrives. Frames already
// captured survive an early stop.
func (d *Detector) runStream(done chan struct{}, stop <-chan struct{}, dwell time.Duration, frames int) {
	ticker := time.NewTicker(dwell)
	defer ticker.Stop()

	captured := 0
	total := 0.0
	for captured < frames {
		select {
		case <-stop:
			_ = d.bus.Write(d.spec.gateAddr(), 0)
			d.log.Debug("stream stopped early", "captured", captured, "budget", frames)
			d.finish(done, []float64{total}, nil)
			return

		case <-ticker.C:
			frame, err := d.bus.ReadArray(d.spec.spectrumAddr())
			if err != nil {
				_ = d.bus.Write(d.spec.gateAddr(), 0)
				d.finish(done, nil, fmt.Errorf("read frame %d: %w", captured+1, err))
				return
			}

			frame = util.CloneSlice(frame, 0)
			for _, v := range frame {
				total += v
			}

			d.mu.Lock()
			if d.done == done {
				d.frameBuf.Enqueue(frame)
				d.captured = append(d.captured, frame)
			}
			d.mu.Unlock()
			captured++
		}
	}

	_ = d.bus.Write(d.spec.gateAddr(), 0)
	d.log.Debug("frame budget reached", "frames", captured)
	d.finish(done, []float64{total}, nil)
}

// readout collects per-channel values after a counting cycle.
func (d *Detector) readout(mode Mode) ([]float64, error) {
	if d.spec.Kind == KindScaler {
		values := make([]float64, d.spec.Channels)
		for i := range values {
			val, err := d.bus.Read(d.spec.channelAddr(i))
			if err != nil {
				return nil, fmt.Errorf("read channel %d: %w", i+1, err)
			}
			values[i] = val
		}
		return values, nil
	}

	spectrum, err := d.bus.ReadArray(d.spec.spectrumAddr())
	if err != nil {
		return nil, fmt.Errorf("read spectrum: %w", err)
	}

	if mode == ROIMode {
		values := make([]float64, len(d.spec.ROIs))
		for i, roi := range d.spec.ROIs {
			hi := roi.Hi
			if hi >= len(spectrum) {
				hi = len(spectrum) - 1
			}
			sum := 0.0
			for ch := roi.Lo; ch <= hi; ch++ {
				sum += spectrum[ch]
			}
			values[i] = sum
		}
		return values, nil
	}

	total := 0.0
	for _, v := range spectrum {
		total += v
	}

	return []float64{total}, nil
}

// finish publishes the acquisition outcome and signals completion, unless a
// newer acquisition has been armed in the meantime.
func (d *Detector) finish(done chan struct{}, values []float64, err error) {
	d.mu.Lock()
	if d.done == done {
		d.readings = values
		d.acqErr = err
	}
	d.mu.Unlock()

	close(done)
}
