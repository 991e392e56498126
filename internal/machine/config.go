package machine

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultCPUHz   = 700
	DefaultTimerHz = 60
)

type Config struct {
	CPUHz   int // Instructions per second
	TimerHz int // Timer ticks (and frames) per second

	// HaltOnUnmapped stops the run on an unmapped instruction instead of
	// logging it and moving on.
	HaltOnUnmapped bool
}

func DefaultConfig() Config {
	return Config{
		CPUHz:   DefaultCPUHz,
		TimerHz: DefaultTimerHz,
	}
}

var errInvalidConfig = errors.New("invalid config")

func (c Config) Validate() error {
	if c.TimerHz <= 0 {
		return fmt.Errorf("%w: timer rate must be positive, got %d", errInvalidConfig, c.TimerHz)
	}

	if c.CPUHz < c.TimerHz {
		return fmt.Errorf("%w: cpu rate %d is below the timer rate %d", errInvalidConfig, c.CPUHz, c.TimerHz)
	}

	return nil
}

// StepsPerFrame is the number of instructions executed between two timer
// ticks.
func (c Config) StepsPerFrame() int {
	return c.CPUHz / c.TimerHz
}

func (c Config) FramePeriod() time.Duration {
	return time.Second / time.Duration(c.TimerHz)
}
