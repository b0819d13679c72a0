package scan

import (
	"errors"
	"time"

	"github.com/xrmlab/go-scan/logger"
)

// Config holds the sequencer's runtime tunables. Timeouts are per-operation
// configuration inputs, not hardcoded constants.
type Config struct {
	// armTimeout bounds how long the ensemble may take to reach the all-armed
	// barrier. Defaults to 5 seconds.
	armTimeout time.Duration

	// acqMargin is added to the expected acquisition duration (dwelltime, or
	// frames x dwelltime in continuous mode) to form the per-detector
	// acquisition timeout. Defaults to 5 seconds.
	acqMargin time.Duration

	// settleDelay is the fixed delay after move-complete that absorbs
	// mechanical and electronic settling. Defaults to 50 milliseconds and must
	// stay positive.
	settleDelay time.Duration

	// abortOnDetectorFailure escalates per-point detector failures to a fatal
	// run error. Defaults to false: failed readings are flagged and the run
	// continues.
	abortOnDetectorFailure bool

	// progressEvery controls how often (in points) progress is logged.
	// Defaults to 25.
	progressEvery int

	// logger provides a logger instance for scan events and errors.
	logger logger.Logger
}

// NewConfig creates a sequencer configuration with default values and applies
// the provided options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		armTimeout:    5 * time.Second,
		acqMargin:     5 * time.Second,
		settleDelay:   50 * time.Millisecond,
		progressEvery: 25,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithArmTimeout sets the all-armed barrier timeout.
// An error is returned if the timeout is outside the valid range (10ms-60s)
// or if the configuration is nil.
//
// The default value is 5 seconds.
func WithArmTimeout(val time.Duration) Option {
	return newOptFunc("WithArmTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("arm timeout out of range [0.01, 60]")
		}
		cfg.armTimeout = val

		return nil
	})
}

// WithAcquisitionMargin sets the tolerance added to the expected acquisition
// duration when waiting for completion.
// An error is returned if the margin is outside the valid range (10ms-300s)
// or if the configuration is nil.
//
// The default value is 5 seconds.
func WithAcquisitionMargin(val time.Duration) Option {
	return newOptFunc("WithAcquisitionMargin", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 10*time.Millisecond || val > 300*time.Second {
			return errors.New("acquisition margin out of range [0.01, 300]")
		}
		cfg.acqMargin = val

		return nil
	})
}

// WithSettleDelay sets the fixed post-move settle delay. The delay must stay
// positive; settling hardware is never given zero time.
// An error is returned if the delay is outside the valid range (1ms-10s) or
// if the configuration is nil.
//
// The default value is 50 milliseconds.
func WithSettleDelay(val time.Duration) Option {
	return newOptFunc("WithSettleDelay", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < time.Millisecond || val > 10*time.Second {
			return errors.New("settle delay out of range [0.001, 10]")
		}
		cfg.settleDelay = val

		return nil
	})
}

// WithAbortOnDetectorFailure escalates per-point detector failures to a fatal
// run error instead of flagging the point and continuing.
//
// The default value is false.
func WithAbortOnDetectorFailure(val bool) Option {
	return newOptFunc("WithAbortOnDetectorFailure", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		cfg.abortOnDetectorFailure = val

		return nil
	})
}

// WithProgressEvery sets how many points pass between progress log lines.
// An error is returned if the value is not positive or if the configuration
// is nil.
//
// The default value is 25.
func WithProgressEvery(points int) Option {
	return newOptFunc("WithProgressEvery", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if points < 1 {
			return errors.New("progress interval must be positive")
		}
		cfg.progressEvery = points

		return nil
	})
}

// WithLogger sets the logger for the sequencer.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
