// Package machine drives a vm.VM in real time: it paces instructions and
// timer ticks, forwards input and hands the framebuffer and tone state to
// the front end.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kapitanov/chip8core/internal/vm"
)

var (
	ErrReboot = errors.New("reboot")
	ErrQuit   = errors.New("quit")
)

// Screen is the read-only view of the framebuffer given to front ends.
type Screen interface {
	Pixel(i int) bool
}

// AudioSink is told once per frame whether the tone should sound.
type AudioSink interface {
	Tone(on bool) error
}

// HAL is a front end. ReadInput may return ErrQuit or ErrReboot.
type HAL interface {
	ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error
	Draw(screen Screen) error
	AudioSink
}

type Machine struct {
	cfg    Config
	cpu    *vm.VM
	hal    HAL
	sinks  []AudioSink
	rom    []byte
	logger *slog.Logger
}

type Option func(*Machine)

// WithAudioSink adds a sink that receives the tone state next to the HAL.
func WithAudioSink(sink AudioSink) Option {
	return func(m *Machine) {
		m.sinks = append(m.sinks, sink)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

func New(cfg Config, cpu *vm.VM, hal HAL, rom []byte, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:    cfg,
		cpu:    cpu,
		hal:    hal,
		sinks:  []AudioSink{hal},
		rom:    rom,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Run boots the program and executes frames until ctx is done or a frame
// fails. ErrQuit and ErrReboot from the front end are returned as is; the
// caller reboots by calling Run again.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.boot(); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.FramePeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := m.Frame(); err != nil {
			if errors.Is(err, ErrQuit) || errors.Is(err, ErrReboot) {
				m.logger.Debug("machine: stop", "reason", err)
			}
			return err
		}
	}
}

func (m *Machine) boot() error {
	m.cpu.Reset()

	if err := m.cpu.Load(m.rom); err != nil {
		return fmt.Errorf("unable to load program: %w", err)
	}

	// Blank the front end's screen.
	if err := m.hal.Draw(m.cpu); err != nil {
		return err
	}

	return nil
}

// Frame runs one timer period: input, StepsPerFrame instructions, one timer
// tick, audio and, if needed, a redraw.
func (m *Machine) Frame() error {
	if err := m.hal.ReadInput(m.keyDown, m.keyUp); err != nil {
		return err
	}

	for i := 0; i < m.cfg.StepsPerFrame(); i++ {
		if err := m.step(); err != nil {
			return err
		}
	}

	tone := m.cpu.SoundTimer() > 0
	m.cpu.TickTimers()

	for _, sink := range m.sinks {
		if err := sink.Tone(tone); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
	}

	if m.cpu.DrawFlag() {
		if err := m.hal.Draw(m.cpu); err != nil {
			return err
		}
		m.cpu.ClearDrawFlag()
	}

	return nil
}

func (m *Machine) step() error {
	err := m.cpu.Step()
	if err == nil {
		return nil
	}

	if errors.Is(err, vm.ErrUnmappedInstruction) && !m.cfg.HaltOnUnmapped {
		m.logger.Warn("skipped instruction", "err", err)
		return nil
	}

	return fmt.Errorf("step: %w", err)
}

func (m *Machine) keyDown(key vm.Key) {
	if err := m.cpu.PressKey(key); err != nil {
		m.logger.Warn("ignored key press", "err", err)
	}
}

func (m *Machine) keyUp(key vm.Key) {
	if err := m.cpu.ReleaseKey(key); err != nil {
		m.logger.Warn("ignored key release", "err", err)
	}
}
